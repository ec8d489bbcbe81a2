package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewProfileManagerCreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	pm, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("NewProfileManager failed: %v", err)
	}

	names := pm.ListProfiles()
	want := []string{"local", "mainnet", "testnet"}
	if len(names) != len(want) {
		t.Fatalf("expected %d profiles, got %v", len(want), names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("profile[%d] = %q, want %q", i, names[i], name)
		}
	}

	if pm.CurrentProfileName() != "local" {
		t.Errorf("current profile = %q, want local", pm.CurrentProfileName())
	}

	current, err := pm.GetCurrentProfile()
	if err != nil {
		t.Fatalf("GetCurrentProfile failed: %v", err)
	}
	if current.ChainID != "wes-local-1" {
		t.Errorf("local chain_id = %q, want wes-local-1", current.ChainID)
	}
	if ep := current.Primary(); ep == nil || ep.WS != "ws://localhost:28681/stream" {
		t.Errorf("unexpected primary endpoint: %+v", ep)
	}
}

func TestProfileDefaults(t *testing.T) {
	dir := t.TempDir()

	pm, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("NewProfileManager failed: %v", err)
	}

	if err := pm.SaveProfile(&Profile{Name: "bare"}); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	profile, err := pm.GetProfile("bare")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}

	if profile.Timeout != Duration(30*time.Second) {
		t.Errorf("timeout = %v, want 30s", time.Duration(profile.Timeout))
	}
	if profile.ReconnectBaseWait != Duration(time.Second) {
		t.Errorf("reconnect_base_wait = %v, want 1s", time.Duration(profile.ReconnectBaseWait))
	}
	if profile.ReconnectMaxWait != Duration(30*time.Second) {
		t.Errorf("reconnect_max_wait = %v, want 30s", time.Duration(profile.ReconnectMaxWait))
	}
	if want := filepath.Join(dir, "markers", "bare"); profile.MarkerPath != want {
		t.Errorf("marker_path = %q, want %q", profile.MarkerPath, want)
	}
	if profile.Primary() != nil {
		t.Errorf("expected nil primary for profile without endpoints")
	}
}

func TestSwitchAndDeleteProfile(t *testing.T) {
	dir := t.TempDir()

	pm, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("NewProfileManager failed: %v", err)
	}

	if err := pm.SwitchProfile("testnet"); err != nil {
		t.Fatalf("SwitchProfile failed: %v", err)
	}
	if pm.CurrentProfileName() != "testnet" {
		t.Errorf("current = %q, want testnet", pm.CurrentProfileName())
	}
	if err := pm.SwitchProfile("no-such"); err == nil {
		t.Errorf("expected error switching to unknown profile")
	}

	// 当前profile不可删除
	if err := pm.DeleteProfile("testnet"); err == nil {
		t.Errorf("expected error deleting current profile")
	}

	if err := pm.DeleteProfile("mainnet"); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	if _, err := pm.GetProfile("mainnet"); err == nil {
		t.Errorf("expected mainnet to be gone")
	}

	// 切换状态在新实例可见
	pm2, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if pm2.CurrentProfileName() != "testnet" {
		t.Errorf("reopened current = %q, want testnet", pm2.CurrentProfileName())
	}
	if _, err := pm2.GetProfile("mainnet"); err == nil {
		t.Errorf("expected mainnet to stay deleted after reopen")
	}
}

func TestProfileEndpointOrdering(t *testing.T) {
	dir := t.TempDir()

	pm, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("NewProfileManager failed: %v", err)
	}

	err = pm.SaveProfile(&Profile{
		Name: "multi",
		Endpoints: []EndpointConfig{
			{Name: "backup", Priority: 5, WS: "wss://b.example/stream"},
			{Name: "primary", Priority: 1, WS: "wss://a.example/stream"},
		},
	})
	if err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	profile, err := pm.GetProfile("multi")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile.Endpoints[0].Name != "primary" {
		t.Errorf("endpoints not sorted by priority: %+v", profile.Endpoints)
	}
	if ep := profile.Primary(); ep == nil || ep.Name != "primary" {
		t.Errorf("primary = %+v, want primary endpoint", ep)
	}
}

func TestLoadSkipsBrokenProfile(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewProfileManager(dir); err != nil {
		t.Fatalf("NewProfileManager failed: %v", err)
	}

	broken := filepath.Join(dir, "profiles", "broken.json")
	if err := os.WriteFile(broken, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write broken profile: %v", err)
	}

	pm, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("reopen with broken profile failed: %v", err)
	}
	if _, err := pm.GetProfile("broken"); err == nil {
		t.Errorf("expected broken profile to be skipped")
	}
	if _, err := pm.GetProfile("local"); err != nil {
		t.Errorf("valid profiles should still load: %v", err)
	}
}

func TestDurationJSON(t *testing.T) {
	type wrapper struct {
		D Duration `json:"d"`
	}

	data, err := json.Marshal(wrapper{D: Duration(90 * time.Second)})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"d":"1m30s"}` {
		t.Errorf("marshal = %s, want {\"d\":\"1m30s\"}", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"d":"2m"}`), &w); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if w.D != Duration(2*time.Minute) {
		t.Errorf("unmarshal = %v, want 2m", time.Duration(w.D))
	}

	if err := json.Unmarshal([]byte(`{"d":"not-a-duration"}`), &w); err == nil {
		t.Errorf("expected error for invalid duration")
	}

	if err := json.Unmarshal([]byte(`{"d":42}`), &w); err == nil {
		t.Errorf("expected error for non-string duration")
	}
}

func TestProfileAPIKey(t *testing.T) {
	p := &Profile{APIKeyEnv: "WES_TEST_PROFILE_KEY"}
	t.Setenv("WES_TEST_PROFILE_KEY", "secret-key")
	if got := p.APIKey(); got != "secret-key" {
		t.Errorf("APIKey = %q, want secret-key", got)
	}

	empty := &Profile{}
	if got := empty.APIKey(); got != "" {
		t.Errorf("APIKey without env = %q, want empty", got)
	}
}
