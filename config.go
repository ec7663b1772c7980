package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Selectors are the console-specific CSS selectors the orchestrator depends
// on. Selector drift is a fatal error, not a retried condition, but keeping
// these in config means a console redesign is a config patch, not a rebuild.
type Selectors struct {
	ReadyMarker  string `mapstructure:"readyMarker" json:"readyMarker"`
	LoginMarker  string `mapstructure:"loginMarker" json:"loginMarker"`
	LoginButton  string `mapstructure:"loginButton" json:"loginButton"`
	ListingName  string `mapstructure:"listingName" json:"listingName"`
	MenuButton   string `mapstructure:"menuButton" json:"menuButton"`
	UploadButton string `mapstructure:"uploadButton" json:"uploadButton"`
}

// StorageProfile is the immutable per-provider configuration, assembled once
// at startup from defaults < shared config file < environment overrides.
type StorageProfile struct {
	ProviderKey        string    `mapstructure:"-" json:"providerKey"`
	ConsoleBaseURL     string    `mapstructure:"consoleBaseUrl" json:"consoleBaseUrl"`
	BucketName         string    `mapstructure:"bucketName" json:"bucketName"`
	UsesCategory       bool      `mapstructure:"usesCategory" json:"usesCategory"`
	ValidCategories    []string  `mapstructure:"validCategories" json:"validCategories"`
	ConsoleRootPrefix  string    `mapstructure:"consoleRootPrefix" json:"consoleRootPrefix"`
	PublicURLBase      string    `mapstructure:"publicUrlBase" json:"publicUrlBase"`
	PublicPathPrefix   string    `mapstructure:"publicPathPrefix" json:"publicPathPrefix"`
	DebugPort          int       `mapstructure:"debugPort" json:"debugPort"`
	ConfirmPort        int       `mapstructure:"confirmPort" json:"confirmPort"`
	UserDataDir        string    `mapstructure:"userDataDir" json:"userDataDir"`
	BrowserBin         string    `mapstructure:"browserBin" json:"browserBin"`
	AutoCloseTab       bool      `mapstructure:"autoCloseTab" json:"autoCloseTab"`
	CloseTabAfterBatch bool      `mapstructure:"closeTabAfterBatch" json:"closeTabAfterBatch"`
	Selectors          Selectors `mapstructure:"selectors" json:"selectors"`

	LoginWaitMs       int `mapstructure:"loginWaitMs" json:"loginWaitMs"`
	BootstrapWaitMs   int `mapstructure:"bootstrapWaitMs" json:"bootstrapWaitMs"`
	BrowserStartMs    int `mapstructure:"browserStartMs" json:"browserStartMs"`
	ConfirmTimeoutMs  int `mapstructure:"confirmTimeoutMs" json:"confirmTimeoutMs"`
	RetryDelayMs      int `mapstructure:"retryDelayMs" json:"retryDelayMs"`
	GlobalDeadlineMs  int `mapstructure:"globalDeadlineMs" json:"globalDeadlineMs"`
	NavigateTimeoutMs int `mapstructure:"navigateTimeoutMs" json:"navigateTimeoutMs"`
}

func (p *StorageProfile) LoginWait() time.Duration { return time.Duration(p.LoginWaitMs) * time.Millisecond }
func (p *StorageProfile) BootstrapWait() time.Duration {
	return time.Duration(p.BootstrapWaitMs) * time.Millisecond
}
func (p *StorageProfile) BrowserStartDelay() time.Duration {
	return time.Duration(p.BrowserStartMs) * time.Millisecond
}
func (p *StorageProfile) ConfirmTimeout() time.Duration {
	return time.Duration(p.ConfirmTimeoutMs) * time.Millisecond
}
func (p *StorageProfile) RetryDelay() time.Duration { return time.Duration(p.RetryDelayMs) * time.Millisecond }
func (p *StorageProfile) GlobalDeadline() time.Duration {
	return time.Duration(p.GlobalDeadlineMs) * time.Millisecond
}
func (p *StorageProfile) NavigateTimeout() time.Duration {
	return time.Duration(p.NavigateTimeoutMs) * time.Millisecond
}

func configDir() string {
	return filepath.Join(homeDir(), ".uplift")
}

func setProfileDefaults(v *viper.Viper) {
	v.SetDefault("consoleBaseUrl", "")
	v.SetDefault("bucketName", "")
	v.SetDefault("usesCategory", false)
	v.SetDefault("validCategories", []string{})
	v.SetDefault("consoleRootPrefix", "")
	v.SetDefault("publicUrlBase", "")
	v.SetDefault("publicPathPrefix", "")
	v.SetDefault("debugPort", 9222)
	v.SetDefault("confirmPort", 18810)
	v.SetDefault("userDataDir", filepath.Join(configDir(), "browser-profile"))
	v.SetDefault("browserBin", "")
	v.SetDefault("autoCloseTab", false)
	v.SetDefault("closeTabAfterBatch", true)

	v.SetDefault("loginWaitMs", int((20 * time.Minute).Milliseconds()))
	v.SetDefault("bootstrapWaitMs", int((25 * time.Second).Milliseconds()))
	v.SetDefault("browserStartMs", int((4 * time.Second).Milliseconds()))
	v.SetDefault("confirmTimeoutMs", int((2 * time.Minute).Milliseconds()))
	v.SetDefault("retryDelayMs", int((5 * time.Second).Milliseconds()))
	v.SetDefault("globalDeadlineMs", int((5 * time.Minute).Milliseconds()))
	v.SetDefault("navigateTimeoutMs", int((30 * time.Second).Milliseconds()))

	v.SetDefault("selectors.readyMarker", `[data-testid="object-list"]`)
	v.SetDefault("selectors.loginMarker", `form[action*="login"]`)
	v.SetDefault("selectors.loginButton", `button[type="submit"]`)
	v.SetDefault("selectors.listingName", `[data-testid="object-list"] [data-testid="object-name"]`)
	v.SetDefault("selectors.menuButton", `[data-testid="bucket-actions"]`)
	v.SetDefault("selectors.uploadButton", `[data-testid="upload-file"]`)
}

// loadProfile builds the effective StorageProfile for one provider.
// Layering: hard defaults < <configDir>/config.json "providers.<key>" block <
// UPLIFT_* environment variables. The result is validated and never mutated
// after return.
func loadProfile(providerKey string) (*StorageProfile, error) {
	if providerKey == "" {
		providerKey = "default"
	}

	root := viper.New()
	root.SetConfigFile(filepath.Join(configDir(), "config.json"))
	root.SetConfigType("json")
	if err := root.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, failKind(ErrKindInvalidInput, "read config: %w", err)
	}

	v := viper.New()
	setProfileDefaults(v)
	if sub := root.Sub("providers." + providerKey); sub != nil {
		if err := v.MergeConfigMap(sub.AllSettings()); err != nil {
			return nil, failKind(ErrKindInvalidInput, "merge provider %q: %w", providerKey, err)
		}
	} else if providerKey != "default" {
		return nil, failKind(ErrKindInvalidInput, "provider %q not found in config", providerKey)
	}

	v.SetEnvPrefix("UPLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Portability overrides named by the process contract.
	_ = v.BindEnv("browserBin", "UPLIFT_BROWSER_BIN")
	_ = v.BindEnv("userDataDir", "UPLIFT_USER_DATA_DIR")

	var p StorageProfile
	if err := v.Unmarshal(&p); err != nil {
		return nil, failKind(ErrKindInvalidInput, "unmarshal profile: %w", err)
	}
	p.ProviderKey = providerKey

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *StorageProfile) validate() error {
	if p.ConsoleBaseURL == "" {
		return failKind(ErrKindInvalidInput, "profile %q: consoleBaseUrl is required", p.ProviderKey)
	}
	if p.UsesCategory && len(p.ValidCategories) == 0 {
		return failKind(ErrKindInvalidInput, "profile %q: usesCategory set but validCategories is empty", p.ProviderKey)
	}
	if p.DebugPort <= 0 || p.DebugPort > 65535 {
		return failKind(ErrKindInvalidInput, "profile %q: debugPort %d out of range", p.ProviderKey, p.DebugPort)
	}
	if p.ConfirmPort <= 0 || p.ConfirmPort > 65535 {
		return failKind(ErrKindInvalidInput, "profile %q: confirmPort %d out of range", p.ProviderKey, p.ConfirmPort)
	}
	return nil
}

// consoleURL is the browsing destination for a resolved target path.
func (p *StorageProfile) consoleURL(relPath string) string {
	base := strings.TrimRight(p.ConsoleBaseURL, "/")
	prefix := strings.Trim(p.ConsoleRootPrefix, "/")
	if prefix != "" {
		return fmt.Sprintf("%s/%s/%s", base, prefix, relPath)
	}
	return fmt.Sprintf("%s/%s", base, relPath)
}

// publicURL is the CDN-facing address of the uploaded object.
func (p *StorageProfile) publicURL(relPath, fileName string) string {
	base := strings.TrimRight(p.PublicURLBase, "/")
	prefix := strings.Trim(p.PublicPathPrefix, "/")
	parts := []string{base}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, relPath, fileName)
	return strings.Join(parts, "/")
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}
