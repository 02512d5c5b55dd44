package config

type Config interface {
	EnvConfig
	SessionConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetBasePath() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Session
	Storage
}

// New returns a Config backed by environment variables only.
func New() Config {
	return newConfig(&source{})
}

// NewFromFile returns a Config backed by a YAML file. Environment variables
// still take precedence over values read from the file.
func NewFromFile(path string) (Config, error) {
	src, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return newConfig(src), nil
}

func newConfig(src *source) Config {
	return mainConfig{
		EnvVars: EnvVars{src: src},
		Session: Session{src: src},
		Storage: Storage{src: src},
	}
}
