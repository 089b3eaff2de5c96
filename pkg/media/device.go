package media

import (
	"context"
	"sync"
)

// DeviceKind тип аудио устройства
type DeviceKind string

const (
	DeviceKindAudioInput  DeviceKind = "audioinput"
	DeviceKindAudioOutput DeviceKind = "audiooutput"
)

// DefaultDeviceID идентификатор системного устройства по умолчанию
const DefaultDeviceID = "default"

// DeviceInfo описание устройства
type DeviceInfo struct {
	ID    string
	Kind  DeviceKind
	Label string
}

// DeviceDirectory проверяет наличие устройств на платформе.
type DeviceDirectory interface {
	DeviceExists(ctx context.Context, id string, kind DeviceKind) (bool, error)
}

// StaticDirectory каталог устройств в памяти. Устройство DefaultDeviceID
// существует всегда.
type StaticDirectory struct {
	mu      sync.RWMutex
	devices map[DeviceKind]map[string]DeviceInfo
}

// NewStaticDirectory создает каталог с заданными устройствами
func NewStaticDirectory(devices ...DeviceInfo) *StaticDirectory {
	d := &StaticDirectory{devices: make(map[DeviceKind]map[string]DeviceInfo)}
	for _, dev := range devices {
		d.Add(dev)
	}
	return d
}

// Add добавляет или заменяет устройство
func (d *StaticDirectory) Add(dev DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byID, ok := d.devices[dev.Kind]
	if !ok {
		byID = make(map[string]DeviceInfo)
		d.devices[dev.Kind] = byID
	}
	byID[dev.ID] = dev
}

// Remove удаляет устройство
func (d *StaticDirectory) Remove(id string, kind DeviceKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices[kind], id)
}

// List возвращает устройства указанного типа
func (d *StaticDirectory) List(kind DeviceKind) []DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DeviceInfo, 0, len(d.devices[kind]))
	for _, dev := range d.devices[kind] {
		out = append(out, dev)
	}
	return out
}

func (d *StaticDirectory) DeviceExists(ctx context.Context, id string, kind DeviceKind) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if id == DefaultDeviceID {
		return true, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.devices[kind][id]
	return ok, nil
}
