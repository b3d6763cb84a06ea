package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"1234", "****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
		{"sk-1234567890abcdef", "sk-1***********cdef"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := MaskSecret(tt.key); got != tt.want {
				t.Errorf("MaskSecret(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoadConfigWithPath_NewConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wreq", "config.yaml")
	cfg, err := LoadConfigWithPath("wreq", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	if cfg.AppName != "wreq" {
		t.Errorf("AppName = %q", cfg.AppName)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config file not created: %v", err)
	}
	ctx, err := cfg.ResolveContext("")
	if err != nil {
		t.Fatalf("ResolveContext with no contexts: %v", err)
	}
	if ctx.BaseURL != "" {
		t.Errorf("empty context has BaseURL %q", ctx.BaseURL)
	}
}

func TestConfig_Contexts(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfigWithPath("wreq", configPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.AddContext("staging", &Context{BaseURL: "https://staging.example.com"})
	cfg.AddContext("prod", &Context{
		BaseURL: "https://api.example.com",
		Timeout: 15,
		Headers: map[string]string{"X-Team": "core"},
		S3:      &S3Context{Region: "us-east-1", PathStyle: true},
	})
	if err := cfg.UseContext("prod"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.UseContext("missing"); err == nil {
		t.Error("UseContext(missing) succeeded")
	}

	if got := cfg.ListContexts(); len(got) != 2 || got[0] != "prod" || got[1] != "staging" {
		t.Errorf("ListContexts() = %v", got)
	}

	cfg2, err := LoadConfigWithPath("wreq", configPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := cfg2.ResolveContext("")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Name != "prod" || ctx.Headers["X-Team"] != "core" || ctx.S3 == nil || !ctx.S3.PathStyle {
		t.Errorf("reloaded context = %+v", ctx)
	}
	if ctx.TimeoutDuration() != 15*time.Second {
		t.Errorf("TimeoutDuration() = %v", ctx.TimeoutDuration())
	}

	if err := cfg2.DeleteContext("prod"); err != nil {
		t.Fatal(err)
	}
	if cfg2.CurrentContext != "" {
		t.Errorf("CurrentContext = %q after deleting it", cfg2.CurrentContext)
	}
	if err := cfg2.DeleteContext("prod"); err == nil {
		t.Error("second DeleteContext succeeded")
	}
}

func TestContext_ResolveURL(t *testing.T) {
	ctx := &Context{BaseURL: "https://api.example.com/v1/"}
	tests := map[string]string{
		"/items":               "https://api.example.com/v1/items",
		"items?x=1":            "https://api.example.com/v1/items?x=1",
		"http://other.test/ok": "http://other.test/ok",
	}
	for in, want := range tests {
		if got := ctx.ResolveURL(in); got != want {
			t.Errorf("ResolveURL(%q) = %q, want %q", in, got, want)
		}
	}
	var none *Context
	if got := none.ResolveURL("/x"); got != "/x" {
		t.Errorf("nil context ResolveURL = %q", got)
	}
}

func TestPaths(t *testing.T) {
	p := &Paths{AppName: "wreq", HomeDir: "/home/u"}
	if got := p.ConfigFile(); got != filepath.Join("/home/u", ".wreq", "wreq", "config.yaml") {
		t.Errorf("ConfigFile() = %q", got)
	}
	if got := p.CookieDir(); got != filepath.Join("/home/u", ".wreq", "wreq", "cookies") {
		t.Errorf("CookieDir() = %q", got)
	}
}
