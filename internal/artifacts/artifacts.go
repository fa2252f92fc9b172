package artifacts

import _ "embed"

// Global artifacts

//go:embed global/settings.yaml
var GlobalSettings []byte

// Project artifacts

//go:embed project/pghere.yaml
var ProjectConfig []byte
