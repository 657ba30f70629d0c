package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	Feed          FeedConfig          `json:"feed" yaml:"feed"`
	Detection     DetectionConfig     `json:"detection" yaml:"detection"`
	Dispatch      DispatchConfig      `json:"dispatch" yaml:"dispatch"`
	API           APIConfig           `json:"api" yaml:"api"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	DeviceControl DeviceControlConfig `json:"device_control" yaml:"device_control"`
	Logs          LogsConfig          `json:"logs" yaml:"logs"`
	Incidents     IncidentsConfig     `json:"incidents" yaml:"incidents"`
	Occupancy     OccupancyConfig     `json:"occupancy" yaml:"occupancy"`
}

type FeedConfig struct {
	ErrorBuffer int                `json:"error_buffer" yaml:"error_buffer"`
	Kafka       KafkaFeedConfig    `json:"kafka" yaml:"kafka"`
	Postgres    PostgresFeedConfig `json:"postgres" yaml:"postgres"`
	REST        RESTFeedConfig     `json:"rest" yaml:"rest"`
	FileTail    FileTailConfig     `json:"file_tail" yaml:"file_tail"`
	Parser      ParserConfig       `json:"parser" yaml:"parser"`
}

type KafkaFeedConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type PostgresFeedConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Channel string `json:"channel" yaml:"channel"`
	Table   string `json:"table" yaml:"table"`
}

type RESTFeedConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type ParserConfig struct {
	Timezone      string `json:"timezone" yaml:"timezone"`
	DefaultRoomID string `json:"default_room_id" yaml:"default_room_id"`
}

type DetectionConfig struct {
	// WindowSize is the run length checked by the detector: an alert fires
	// when the WindowSize most recent entries are all unauthorized attempts.
	// Values below 2 are rejected because a single denied swipe is routine.
	WindowSize int `json:"window_size" yaml:"window_size"`
	// HistorySize bounds how many past detection keys are remembered for
	// duplicate suppression.
	HistorySize int `json:"history_size" yaml:"history_size"`
}

type DispatchConfig struct {
	Push         PushConfig         `json:"push" yaml:"push"`
	Kafka        KafkaSinkConfig    `json:"kafka" yaml:"kafka"`
	NATS         NATSSinkConfig     `json:"nats" yaml:"nats"`
	Notification NotificationConfig `json:"notification" yaml:"notification"`
}

type PushConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

type KafkaSinkConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type NATSSinkConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

type NotificationConfig struct {
	Icon        string `json:"icon" yaml:"icon"`
	ClickURL    string `json:"click_url" yaml:"click_url"`
	Vibration   []int  `json:"vibration" yaml:"vibration"`
	NoticeLimit int    `json:"notice_limit" yaml:"notice_limit"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type DeviceControlConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type LogsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type IncidentsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type OccupancyConfig struct {
	RoomLimit int `json:"room_limit" yaml:"room_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Feed: FeedConfig{
			ErrorBuffer: 16,
			Kafka:       KafkaFeedConfig{Enabled: false},
			Postgres:    PostgresFeedConfig{Enabled: false, Channel: "access_log", Table: "log_entries"},
			REST:        RESTFeedConfig{Enabled: true, Addr: ":8080"},
			FileTail:    FileTailConfig{Enabled: false, StartAtEnd: true},
			Parser:      ParserConfig{Timezone: "UTC", DefaultRoomID: "unknown"},
		},
		Detection: DetectionConfig{
			WindowSize:  3,
			HistorySize: 10,
		},
		Dispatch: DispatchConfig{
			Push:  PushConfig{Enabled: false, Timeout: 10 * time.Second},
			Kafka: KafkaSinkConfig{Enabled: false},
			NATS:  NATSSinkConfig{Enabled: false, SubjectPrefix: "sentrilock.alerts"},
			Notification: NotificationConfig{
				Icon:        "/icons/security-alert.png",
				ClickURL:    "/logs",
				Vibration:   []int{200, 100, 200},
				NoticeLimit: 50,
			},
		},
		API:           APIConfig{Enabled: true, Addr: ":8081"},
		Storage:       StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:sentrilock.db?_pragma=busy_timeout(5000)"},
		DeviceControl: DeviceControlConfig{Enabled: false, Timeout: 10 * time.Second},
		Logs:          LogsConfig{StoreLimit: 1000},
		Incidents:     IncidentsConfig{StoreLimit: 500},
		Occupancy:     OccupancyConfig{RoomLimit: 500},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Feed.ErrorBuffer <= 0 {
		cfg.Feed.ErrorBuffer = 16
	}
	if cfg.Feed.Parser.Timezone == "" {
		cfg.Feed.Parser.Timezone = "UTC"
	}
	if cfg.Feed.Parser.DefaultRoomID == "" {
		cfg.Feed.Parser.DefaultRoomID = "unknown"
	}
	if cfg.Feed.Postgres.Channel == "" {
		cfg.Feed.Postgres.Channel = "access_log"
	}
	if cfg.Feed.Postgres.Table == "" {
		cfg.Feed.Postgres.Table = "log_entries"
	}
	if cfg.Detection.WindowSize == 0 {
		cfg.Detection.WindowSize = 3
	}
	if cfg.Detection.HistorySize <= 0 {
		cfg.Detection.HistorySize = 10
	}
	if cfg.Dispatch.Push.Timeout <= 0 {
		cfg.Dispatch.Push.Timeout = 10 * time.Second
	}
	if cfg.Dispatch.NATS.SubjectPrefix == "" {
		cfg.Dispatch.NATS.SubjectPrefix = "sentrilock.alerts"
	}
	if cfg.Dispatch.Notification.NoticeLimit <= 0 {
		cfg.Dispatch.Notification.NoticeLimit = 50
	}
	if cfg.DeviceControl.Timeout <= 0 {
		cfg.DeviceControl.Timeout = 10 * time.Second
	}
	if cfg.Logs.StoreLimit <= 0 {
		cfg.Logs.StoreLimit = 1000
	}
	if cfg.Incidents.StoreLimit <= 0 {
		cfg.Incidents.StoreLimit = 500
	}
	if cfg.Occupancy.RoomLimit <= 0 {
		cfg.Occupancy.RoomLimit = 500
	}
}

func Validate(cfg *Config) error {
	if cfg.Detection.WindowSize < 2 {
		return fmt.Errorf("detection.window_size must be at least 2, got %d", cfg.Detection.WindowSize)
	}
	if cfg.Detection.HistorySize < 1 {
		return errors.New("detection.history_size must be at least 1")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Feed.REST.Enabled && cfg.Feed.REST.Addr == "" {
		return errors.New("feed.rest.addr required when feed.rest.enabled is true")
	}
	if cfg.Feed.Kafka.Enabled {
		if len(cfg.Feed.Kafka.Brokers) == 0 || cfg.Feed.Kafka.Topic == "" || cfg.Feed.Kafka.GroupID == "" {
			return errors.New("feed.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Feed.Postgres.Enabled && cfg.Feed.Postgres.DSN == "" {
		return errors.New("feed.postgres.dsn required when feed.postgres.enabled is true")
	}
	if cfg.Feed.FileTail.Enabled && len(cfg.Feed.FileTail.Files) == 0 {
		return errors.New("feed.file_tail.files required when feed.file_tail.enabled is true")
	}
	if cfg.Dispatch.Push.Enabled && cfg.Dispatch.Push.Endpoint == "" {
		return errors.New("dispatch.push.endpoint required when dispatch.push.enabled is true")
	}
	if cfg.Dispatch.Kafka.Enabled {
		if len(cfg.Dispatch.Kafka.Brokers) == 0 || cfg.Dispatch.Kafka.Topic == "" {
			return errors.New("dispatch.kafka requires brokers, topic")
		}
	}
	if cfg.Dispatch.NATS.Enabled && cfg.Dispatch.NATS.URL == "" {
		return errors.New("dispatch.nats.url required when dispatch.nats.enabled is true")
	}
	if cfg.DeviceControl.Enabled && cfg.DeviceControl.BaseURL == "" {
		return errors.New("device_control.base_url required when device_control.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
