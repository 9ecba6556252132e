package device

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// StatusOnline 是 adb 对可用设备报告的状态。
const StatusOnline = "device"

// StatusDisconnected 用于上报已从列表中消失的设备。
const StatusDisconnected = "disconnected"

var (
	// ErrNoDeviceSelected 表示当前没有选中设备。
	ErrNoDeviceSelected = errors.New("no device selected")
	// ErrSelectionStale 表示选中的设备已不在最新快照中，不得再向其派发命令。
	ErrSelectionStale = errors.New("no device selected: selected device is no longer attached")
)

// Device 是一次刷新得到的不可变设备值，以 Serial 判等。
type Device struct {
	Serial string
	Status string
	Model  string
}

// Online reports whether adb considers the device usable.
func (d Device) Online() bool {
	return d.Status == StatusOnline
}

// Snapshot 是注册表对外发布的完整视图，每次刷新整体替换。
// Selected 只是按序列号的弱引用，可能悬空。
type Snapshot struct {
	Devices   []Device
	Selected  string
	Version   uint64
	UpdatedAt time.Time
}

// Lookup returns the device with the given serial.
func (s Snapshot) Lookup(serial string) (Device, bool) {
	for _, d := range s.Devices {
		if d.Serial == serial {
			return d, true
		}
	}
	return Device{}, false
}

// SelectedDevice returns the selected device if it is still listed.
func (s Snapshot) SelectedDevice() (Device, bool) {
	if s.Selected == "" {
		return Device{}, false
	}
	return s.Lookup(s.Selected)
}

// Stale reports whether a selection exists that the latest refresh no longer lists.
func (s Snapshot) Stale() bool {
	if s.Selected == "" {
		return false
	}
	_, ok := s.Lookup(s.Selected)
	return !ok
}

// Provider 返回当前 adb 可见的设备列表。
type Provider interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// Recorder 负责将设备变化同步到外部存储（SQLite）。
type Recorder interface {
	UpsertDevices(ctx context.Context, devices []InfoUpdate) error
}

// InfoUpdate 描述需要上报的设备状态。
type InfoUpdate struct {
	DeviceSerial string
	Status       string
	Model        string
	LastSeenAt   time.Time
}

// ModelFetcher 在设备首次在线时查询型号。
type ModelFetcher func(ctx context.Context, serial string) (string, error)
