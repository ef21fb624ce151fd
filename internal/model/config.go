package model

import "time"

// Config holds all runtime configuration
type Config struct {
	Browser      BrowserConfig      `yaml:"browser" mapstructure:"browser"`
	Gate         GateConfig         `yaml:"gate" mapstructure:"gate"`
	Capture      CaptureConfig      `yaml:"capture" mapstructure:"capture"`
	Resolver     ResolverConfig     `yaml:"resolver" mapstructure:"resolver"`
	Input        InputConfig        `yaml:"input" mapstructure:"input"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Storage      StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Ledger       LedgerConfig       `yaml:"ledger" mapstructure:"ledger"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// BrowserConfig describes how the authenticated browsing session is obtained
type BrowserConfig struct {
	Headless          bool          `yaml:"headless" mapstructure:"headless"`
	ExecPath          string        `yaml:"exec_path,omitempty" mapstructure:"exec_path"`
	UserDataDir       string        `yaml:"user_data_dir,omitempty" mapstructure:"user_data_dir"` // Profile holding the logged-in session
	RemoteURL         string        `yaml:"remote_url,omitempty" mapstructure:"remote_url"`       // Attach to a running browser instead
	ProxyServer       string        `yaml:"proxy_server,omitempty" mapstructure:"proxy_server"`
	WindowWidth       int           `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight      int           `yaml:"window_height" mapstructure:"window_height"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout" mapstructure:"action_timeout"` // Clicks, scripts, screenshots
	PopupWait         time.Duration `yaml:"popup_wait" mapstructure:"popup_wait"`
}

// GateConfig tunes the stable-state wait
type GateConfig struct {
	LoadingSelector string        `yaml:"loading_selector" mapstructure:"loading_selector"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	QuietWindow     time.Duration `yaml:"quiet_window" mapstructure:"quiet_window"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// CaptureConfig tunes the capture strategies
type CaptureConfig struct {
	HiddenSelectors    []string      `yaml:"hidden_selectors" mapstructure:"hidden_selectors"`       // Side navigation to hide
	ScrollContainers   []string      `yaml:"scroll_containers" mapstructure:"scroll_containers"`     // Extra containers to expand
	RegionSelectors    []string      `yaml:"region_selectors" mapstructure:"region_selectors"`       // Most specific first
	FramePattern       string        `yaml:"frame_pattern" mapstructure:"frame_pattern"`             // Regexp against the iframe address
	FrameWait          time.Duration `yaml:"frame_wait" mapstructure:"frame_wait"`
	ContactTabSelector string        `yaml:"contact_tab_selector,omitempty" mapstructure:"contact_tab_selector"`
	EmitPDF            bool          `yaml:"emit_pdf" mapstructure:"emit_pdf"`
}

// ResolverConfig holds the keyword and selector sets used to find surfaces
type ResolverConfig struct {
	DisclosureSelectors  []string `yaml:"disclosure_selectors" mapstructure:"disclosure_selectors"`
	MenuItemSelectors    []string `yaml:"menu_item_selectors" mapstructure:"menu_item_selectors"`
	ConfirmationKeywords []string `yaml:"confirmation_keywords" mapstructure:"confirmation_keywords"`
	InvoiceKeywords      []string `yaml:"invoice_keywords" mapstructure:"invoice_keywords"`
	TicketEmailKeywords  []string `yaml:"ticket_email_keywords" mapstructure:"ticket_email_keywords"`
	EmailPreviewTemplate string   `yaml:"email_preview_template" mapstructure:"email_preview_template"` // {id} and {category} are substituted
	DefaultEmailCategory string   `yaml:"default_email_category" mapstructure:"default_email_category"`
}

// InputConfig controls how input rows become entities
type InputConfig struct {
	BasePath string `yaml:"base_path" mapstructure:"base_path"`
}

// OutputConfig controls the local working area
type OutputConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	NoUpload bool   `yaml:"no_upload" mapstructure:"no_upload"` // Keep directories, skip bundling and upload
	Report   bool   `yaml:"report" mapstructure:"report"`       // Write run-<id>.json
	Verbose  bool   `yaml:"verbose" mapstructure:"verbose"`
}

// StorageConfig selects the durable object store
type StorageConfig struct {
	Provider         string `yaml:"provider" mapstructure:"provider"` // azure or dir
	ConnectionString string `yaml:"-" mapstructure:"connection_string"`
	Container        string `yaml:"container" mapstructure:"container"`
	Dir              string `yaml:"dir,omitempty" mapstructure:"dir"`
	HTTPProxy        string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy       string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	SigningKeyPath   string `yaml:"signing_key_path,omitempty" mapstructure:"signing_key_path"`
	SigningKeyPass   string `yaml:"-" mapstructure:"signing_key_pass"`
	UploadAttempts   int    `yaml:"upload_attempts" mapstructure:"upload_attempts"`
}

// ConcurrencyConfig controls the number of isolated browser sessions
type ConcurrencyConfig struct {
	Sessions int `yaml:"sessions" mapstructure:"sessions"`
}

// RateLimitingConfig paces navigations per host
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
	RespectRobots     bool    `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// LedgerConfig controls the record of already-uploaded entities
type LedgerConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir          string        `yaml:"dir" mapstructure:"dir"`
	TTL          time.Duration `yaml:"ttl" mapstructure:"ttl"`
	SkipUploaded bool          `yaml:"skip_uploaded" mapstructure:"skip_uploaded"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or text
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          true,
			WindowWidth:       1440,
			WindowHeight:      900,
			NavigationTimeout: 45 * time.Second,
			ActionTimeout:     15 * time.Second,
			PopupWait:         3 * time.Second,
		},
		Gate: GateConfig{
			LoadingSelector: ".loading, .spinner, [aria-busy=\"true\"], .k-loading-mask",
			Timeout:         20 * time.Second,
			QuietWindow:     750 * time.Millisecond,
			PollInterval:    150 * time.Millisecond,
		},
		Capture: CaptureConfig{
			HiddenSelectors: []string{
				"nav.sidebar",
				".side-nav",
				"#sidebar",
				"aside[role=\"navigation\"]",
			},
			ScrollContainers: []string{
				"main",
				".content",
				".page-content",
			},
			RegionSelectors: []string{
				".email-body",
				"[data-role=\"email-body\"]",
				".mail-content",
				".confirmation-body",
				".modal-body",
				"main .card-body",
			},
			FramePattern: `(?i)email|preview|message`,
			FrameWait:    10 * time.Second,
			EmitPDF:      false,
		},
		Resolver: ResolverConfig{
			DisclosureSelectors: []string{
				"[data-toggle=\"dropdown\"]",
				"[data-bs-toggle=\"dropdown\"]",
				"button[aria-haspopup=\"true\"]",
				".actions-toggle",
			},
			MenuItemSelectors: []string{
				".dropdown-menu a",
				".dropdown-menu button",
				"[role=\"menuitem\"]",
			},
			ConfirmationKeywords: []string{"confirmation", "confirm"},
			InvoiceKeywords:      []string{"invoice", "receipt"},
			TicketEmailKeywords:  []string{"emailpreview", "email-preview", "ticket"},
			EmailPreviewTemplate: "/registrants/emailpreview?registrantId={id}&category={category}",
			DefaultEmailCategory: "registration",
		},
		Output: OutputConfig{
			Dir:    "./out",
			Report: true,
		},
		Storage: StorageConfig{
			Provider:       "azure",
			Container:      "evidence",
			UploadAttempts: 3,
		},
		Concurrency: ConcurrencyConfig{
			Sessions: 1,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2.0,
			BurstSize:         4,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Dir:     "./out/.ledger",
			TTL:     30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
