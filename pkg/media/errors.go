package media

import (
	"errors"
	"fmt"
)

var (
	// ErrTrackStopped возвращается при чтении или записи в остановленный трек
	ErrTrackStopped = errors.New("трек остановлен")
	// ErrNoStream Play без подключенного потока
	ErrNoStream = errors.New("поток не подключен")
	// ErrInvalidTone строка тонов содержит недопустимые символы
	ErrInvalidTone = errors.New("недопустимый DTMF тон")
)

// DeviceNotFoundError устройство отсутствует в каталоге
type DeviceNotFoundError struct {
	ID   string
	Kind DeviceKind
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("устройство %s не найдено: %s", e.Kind, e.ID)
}

// IsDeviceNotFound сообщает, что err вызвана отсутствием устройства
func IsDeviceNotFound(err error) bool {
	var nf *DeviceNotFoundError
	return errors.As(err, &nf)
}
