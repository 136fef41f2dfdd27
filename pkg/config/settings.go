package config

// Settings is the shape of the optional YAML config file. Keys mirror the
// command-line flags.
type Settings struct {
	Root            string `mapstructure:"root"`
	Catalog         string `mapstructure:"catalog"`
	Release         string `mapstructure:"release"`
	WindowSec       int64  `mapstructure:"window_sec"`
	TimestampPolicy string `mapstructure:"timestamp_policy"`
	MaxWindows      int    `mapstructure:"max_windows"`
	AsOf            string `mapstructure:"as_of"`
	Publish         string `mapstructure:"publish"`
	JSONLogs        bool   `mapstructure:"json_logs"`
	Verbose         bool   `mapstructure:"verbose"`
	OtelEndpoint    string `mapstructure:"otel_endpoint"`
	SkipTelemetry   bool   `mapstructure:"skip_telemetry"`

	Layout LayoutSettings `mapstructure:"layout"`
}

// LayoutSettings overrides parts of the default directory layout.
type LayoutSettings struct {
	EvidenceDir string `mapstructure:"evidence_dir"`
	OSCALDir    string `mapstructure:"oscal_dir"`
	MetricsDir  string `mapstructure:"metrics_dir"`
	BundleFile  string `mapstructure:"bundle_file"`
}

// Apply overlays non-empty layout overrides onto p.
func (l LayoutSettings) Apply(p Paths) Paths {
	if l.EvidenceDir != "" {
		p.EvidenceDir = l.EvidenceDir
	}
	if l.OSCALDir != "" {
		p.OSCALDir = l.OSCALDir
	}
	if l.MetricsDir != "" {
		p.MetricsDir = l.MetricsDir
	}
	if l.BundleFile != "" {
		p.BundleFile = l.BundleFile
	}
	return p
}
