package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DirectoryAdapter exposes input ports laid out as a sysfs style tree:
//
//	<path>/port<N>/status    "connected" or "disconnected"
//	<path>/port<N>/edid      raw EDID bytes
//	<path>/port<N>/selected  written "1" or "0" on select and deselect
//
// Changes to a status file are reported through the registered hot-plug handlers.
type DirectoryAdapter struct {
	path  string
	ports int

	mux      sync.RWMutex
	handlers []HotplugHandler

	watcher *fsnotify.Watcher
}

func NewDirectoryAdapter(config AdapterConfig) *DirectoryAdapter {
	return &DirectoryAdapter{
		path:  config.Path,
		ports: config.Ports,
	}
}

func (adapter *DirectoryAdapter) PortCount() int {
	return adapter.ports
}

func (adapter *DirectoryAdapter) portPath(id int, name string) string {
	return filepath.Join(adapter.path, "port"+strconv.Itoa(id), name)
}

func (adapter *DirectoryAdapter) available() error {
	info, err := os.Stat(adapter.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrAdapterUnavailable, adapter.path)
	}

	return nil
}

func (adapter *DirectoryAdapter) readStatus(id int) (bool, error) {
	data, err := os.ReadFile(adapter.portPath(id, "status"))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return parseStatus(string(data)), nil
}

func (adapter *DirectoryAdapter) Enumerate() ([]AdapterDevice, error) {
	if err := adapter.available(); err != nil {
		return nil, err
	}

	devices := make([]AdapterDevice, 0, adapter.ports)
	for id := 0; id < adapter.ports; id++ {
		connected, err := adapter.readStatus(id)
		if err != nil {
			return nil, err
		}

		devices = append(devices, AdapterDevice{Id: id, Connected: connected})
	}

	return devices, nil
}

func (adapter *DirectoryAdapter) ReadEdid(deviceId int) ([]byte, error) {
	if err := adapter.available(); err != nil {
		return nil, err
	}

	return os.ReadFile(adapter.portPath(deviceId, "edid"))
}

func (adapter *DirectoryAdapter) WriteEdid(deviceId int, edid []byte) error {
	if err := adapter.available(); err != nil {
		return err
	}

	return os.WriteFile(adapter.portPath(deviceId, "edid"), edid, 0644)
}

func (adapter *DirectoryAdapter) Select(deviceId int) error {
	return adapter.writeSelected(deviceId, "1")
}

func (adapter *DirectoryAdapter) Deselect(deviceId int) error {
	return adapter.writeSelected(deviceId, "0")
}

func (adapter *DirectoryAdapter) writeSelected(deviceId int, value string) error {
	if err := adapter.available(); err != nil {
		return err
	}

	return os.WriteFile(adapter.portPath(deviceId, "selected"), []byte(value+"\n"), 0644)
}

func (adapter *DirectoryAdapter) RegisterHotplugHandler(handler HotplugHandler) {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()
	adapter.handlers = append(adapter.handlers, handler)
}

// Watch starts watching every port directory for status changes.
func (adapter *DirectoryAdapter) Watch() error {
	if err := adapter.available(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for id := 0; id < adapter.ports; id++ {
		dir := filepath.Dir(adapter.portPath(id, "status"))
		if err := watcher.Add(dir); err != nil {
			log.WithFields(log.Fields{
				"path":  dir,
				"error": err,
			}).Warn("Unable to watch input port")
		}
	}

	adapter.watcher = watcher
	go adapter.watch(watcher)

	return nil
}

func (adapter *DirectoryAdapter) Close() error {
	if adapter.watcher == nil {
		return nil
	}

	return adapter.watcher.Close()
}

func (adapter *DirectoryAdapter) watch(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Base(event.Name) != "status" {
				continue
			}

			id, ok := parsePortDir(filepath.Base(filepath.Dir(event.Name)))
			if !ok {
				continue
			}

			connected, err := adapter.readStatus(id)
			if err != nil {
				log.WithFields(log.Fields{
					"device.id": id,
					"error":     err,
				}).Warn("Failed to read input status")
				continue
			}

			adapter.fire(id, connected)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Input watcher error")
		}
	}
}

func (adapter *DirectoryAdapter) fire(id int, connected bool) {
	adapter.mux.RLock()
	handlers := make([]HotplugHandler, len(adapter.handlers))
	copy(handlers, adapter.handlers)
	adapter.mux.RUnlock()

	for _, handler := range handlers {
		handler(id, connected)
	}
}

func parsePortDir(name string) (int, bool) {
	if !strings.HasPrefix(name, "port") {
		return 0, false
	}

	id, err := strconv.Atoi(strings.TrimPrefix(name, "port"))
	if err != nil {
		return 0, false
	}

	return id, true
}
