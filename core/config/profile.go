// Package config provides profile management functionality for client configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Profile CLI配置Profile
type Profile struct {
	Name    string `json:"name"`     // Profile名称: mainnet/testnet/local
	ChainID string `json:"chain_id"` // 默认链ID

	// 网关端点(按优先级排序)
	Endpoints []EndpointConfig `json:"endpoints"`

	// 本地路径
	MarkerPath string `json:"marker_path"` // 进度标记文件目录
	CachePath  string `json:"cache_path"`  // 缓存目录

	// 网络配置
	Timeout              Duration `json:"timeout"`                          // REST请求超时
	ReconnectBaseWait    Duration `json:"reconnect_base_wait"`              // 重连退避起始等待
	ReconnectMaxWait     Duration `json:"reconnect_max_wait"`               // 重连退避等待上限
	MaxReconnectAttempts int      `json:"max_reconnect_attempts,omitempty"` // 单次断线最大重试,0不限
	DisableAutoRestart   bool     `json:"disable_auto_restart,omitempty"`   // 重连后不自动重启流

	// 鉴权:存放API Key的环境变量名,不落盘Key本身
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// EndpointConfig 端点配置
type EndpointConfig struct {
	Name     string `json:"name"`     // 端点名称
	Priority int    `json:"priority"` // 优先级(数字越小越优先)

	// 协议端点
	REST string `json:"rest,omitempty"` // REST API地址
	WS   string `json:"ws,omitempty"`   // WebSocket流地址
}

// Primary 返回优先级最高的端点,无端点时返回 nil
func (p *Profile) Primary() *EndpointConfig {
	if len(p.Endpoints) == 0 {
		return nil
	}
	best := &p.Endpoints[0]
	for i := range p.Endpoints[1:] {
		if p.Endpoints[i+1].Priority < best.Priority {
			best = &p.Endpoints[i+1]
		}
	}
	return best
}

// APIKey 从环境变量读取API Key,未配置时返回空串
func (p *Profile) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Duration 时间duration(支持JSON序列化)
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(dur)
	return nil
}

// ProfileManager Profile管理器
type ProfileManager struct {
	configDir      string
	currentProfile string
	profiles       map[string]*Profile
}

// NewProfileManager 创建Profile管理器
func NewProfileManager(configDir string) (*ProfileManager, error) {
	if configDir == "" {
		// 默认配置目录: ~/.wes-stream
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		configDir = filepath.Join(homeDir, ".wes-stream")
	}

	// 确保配置目录存在
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	pm := &ProfileManager{
		configDir: configDir,
		profiles:  make(map[string]*Profile),
	}

	// 加载所有profiles
	if err := pm.loadProfiles(); err != nil {
		return nil, err
	}

	// 加载当前profile
	if err := pm.loadCurrentProfile(); err != nil {
		// 如果没有当前profile,使用默认
		pm.currentProfile = "local"
	}

	return pm, nil
}

// loadProfiles 加载所有profiles
func (pm *ProfileManager) loadProfiles() error {
	profilesDir := filepath.Join(pm.configDir, "profiles")

	// 如果profiles目录不存在,创建默认profiles
	if _, err := os.Stat(profilesDir); os.IsNotExist(err) {
		if err := os.MkdirAll(profilesDir, 0700); err != nil {
			return fmt.Errorf("create profiles dir: %w", err)
		}

		// 创建默认profiles
		if err := pm.createDefaultProfiles(); err != nil {
			return err
		}
	}

	// 遍历profiles目录
	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return fmt.Errorf("read profiles dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isJSONFile(entry.Name()) {
			continue
		}

		profilePath := filepath.Join(profilesDir, entry.Name())
		profile, err := pm.loadProfile(profilePath)
		if err != nil {
			// 记录错误但继续
			fmt.Fprintf(os.Stderr, "Warning: failed to load profile %s: %v\n", entry.Name(), err)
			continue
		}

		pm.profiles[profile.Name] = profile
	}

	return nil
}

// loadProfile 加载单个profile
func (pm *ProfileManager) loadProfile(filePath string) (*Profile, error) {
	//nolint:gosec // G304: filePath 来自配置目录，路径安全可控
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}

	pm.applyDefaults(&profile)
	return &profile, nil
}

// applyDefaults 填充默认路径与网络配置
func (pm *ProfileManager) applyDefaults(profile *Profile) {
	if profile.MarkerPath == "" {
		profile.MarkerPath = filepath.Join(pm.configDir, "markers", profile.Name)
	}
	if profile.CachePath == "" {
		profile.CachePath = filepath.Join(pm.configDir, "cache", profile.Name)
	}

	if profile.Timeout == 0 {
		profile.Timeout = Duration(30 * time.Second)
	}
	if profile.ReconnectBaseWait == 0 {
		profile.ReconnectBaseWait = Duration(time.Second)
	}
	if profile.ReconnectMaxWait == 0 {
		profile.ReconnectMaxWait = Duration(30 * time.Second)
	}

	// 端点按优先级排序,Primary 与遍历顺序一致
	sort.SliceStable(profile.Endpoints, func(i, j int) bool {
		return profile.Endpoints[i].Priority < profile.Endpoints[j].Priority
	})
}

// loadCurrentProfile 加载当前profile
func (pm *ProfileManager) loadCurrentProfile() error {
	currentFile := filepath.Join(pm.configDir, "current")
	//nolint:gosec // G304: currentFile 来自配置目录，路径安全可控
	data, err := os.ReadFile(currentFile)
	if err != nil {
		return err
	}

	pm.currentProfile = string(data)
	return nil
}

// saveCurrentProfile 保存当前profile
func (pm *ProfileManager) saveCurrentProfile() error {
	currentFile := filepath.Join(pm.configDir, "current")
	return os.WriteFile(currentFile, []byte(pm.currentProfile), 0600)
}

// createDefaultProfiles 创建默认profiles
func (pm *ProfileManager) createDefaultProfiles() error {
	profiles := []*Profile{
		{
			Name:    "local",
			ChainID: "wes-local-1",
			Endpoints: []EndpointConfig{
				{
					Name:     "local-gateway",
					Priority: 1,
					REST:     "http://localhost:28680/api/v1",
					WS:       "ws://localhost:28681/stream",
				},
			},
			Timeout:           Duration(30 * time.Second),
			ReconnectBaseWait: Duration(time.Second),
			ReconnectMaxWait:  Duration(30 * time.Second),
		},
		{
			Name:    "testnet",
			ChainID: "wes-testnet-1",
			Endpoints: []EndpointConfig{
				{
					Name:     "testnet-primary",
					Priority: 1,
					REST:     "https://testnet-api.wes.io/api/v1",
					WS:       "wss://testnet-stream.wes.io/stream",
				},
				{
					Name:     "testnet-backup",
					Priority: 2,
					REST:     "https://testnet-api2.wes.io/api/v1",
					WS:       "wss://testnet-stream2.wes.io/stream",
				},
			},
			Timeout:           Duration(60 * time.Second),
			ReconnectBaseWait: Duration(2 * time.Second),
			ReconnectMaxWait:  Duration(time.Minute),
			APIKeyEnv:         "WES_TESTNET_API_KEY",
		},
		{
			Name:    "mainnet",
			ChainID: "wes-mainnet-1",
			Endpoints: []EndpointConfig{
				{
					Name:     "mainnet-primary",
					Priority: 1,
					REST:     "https://mainnet-api.wes.io/api/v1",
					WS:       "wss://mainnet-stream.wes.io/stream",
				},
				{
					Name:     "mainnet-backup",
					Priority: 2,
					REST:     "https://mainnet-api2.wes.io/api/v1",
					WS:       "wss://mainnet-stream2.wes.io/stream",
				},
			},
			Timeout:           Duration(60 * time.Second),
			ReconnectBaseWait: Duration(2 * time.Second),
			ReconnectMaxWait:  Duration(time.Minute),
			APIKeyEnv:         "WES_API_KEY",
		},
	}

	for _, profile := range profiles {
		if err := pm.SaveProfile(profile); err != nil {
			return err
		}
	}

	// 设置local为当前profile
	pm.currentProfile = "local"
	return pm.saveCurrentProfile()
}

// GetProfile 获取指定profile
func (pm *ProfileManager) GetProfile(name string) (*Profile, error) {
	profile, exists := pm.profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile not found: %s", name)
	}
	return profile, nil
}

// GetCurrentProfile 获取当前profile
func (pm *ProfileManager) GetCurrentProfile() (*Profile, error) {
	return pm.GetProfile(pm.currentProfile)
}

// CurrentProfileName 返回当前profile名称
func (pm *ProfileManager) CurrentProfileName() string {
	return pm.currentProfile
}

// ListProfiles 列出所有profiles
func (pm *ProfileManager) ListProfiles() []string {
	names := make([]string, 0, len(pm.profiles))
	for name := range pm.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SaveProfile 保存profile
func (pm *ProfileManager) SaveProfile(profile *Profile) error {
	// 保存前填充默认值,保持与 loadProfile 行为一致
	pm.applyDefaults(profile)

	profilePath := filepath.Join(pm.configDir, "profiles", profile.Name+".json")

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	if err := os.WriteFile(profilePath, data, 0600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}

	pm.profiles[profile.Name] = profile
	return nil
}

// SwitchProfile 切换profile
func (pm *ProfileManager) SwitchProfile(name string) error {
	if _, exists := pm.profiles[name]; !exists {
		return fmt.Errorf("profile not found: %s", name)
	}

	pm.currentProfile = name
	return pm.saveCurrentProfile()
}

// DeleteProfile 删除profile
func (pm *ProfileManager) DeleteProfile(name string) error {
	// 不能删除当前profile
	if name == pm.currentProfile {
		return fmt.Errorf("cannot delete current profile")
	}

	profilePath := filepath.Join(pm.configDir, "profiles", name+".json")
	if err := os.Remove(profilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile file: %w", err)
	}

	delete(pm.profiles, name)
	return nil
}

// isJSONFile 检查是否是JSON文件
func isJSONFile(name string) bool {
	return filepath.Ext(name) == ".json"
}
