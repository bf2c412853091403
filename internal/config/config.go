package config

import (
	"os"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Mail     Mail     `yaml:"mail"`
	Delivery Delivery `yaml:"delivery"`
}

type Server struct {
	ListenAddr    string `yaml:"listenAddr"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Mail struct {
	SMTPHost string `yaml:"smtpHost"`
	SMTPPort int    `yaml:"smtpPort"`
	From     string `yaml:"from"`
}

type Delivery struct {
	Workers           int    `yaml:"workers"`
	QueueDepth        int    `yaml:"queueDepth"`
	InactiveAfterDays int    `yaml:"inactiveAfterDays"`
	Announcement      string `yaml:"announcement"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.Server.ListenAddr == "" {
		config.Server.ListenAddr = ":8000"
	}
	if config.Mail.SMTPPort == 0 {
		config.Mail.SMTPPort = 25
	}
	if config.Delivery.Workers == 0 {
		config.Delivery.Workers = 5
	}
	if config.Delivery.QueueDepth == 0 {
		config.Delivery.QueueDepth = 2
	}
	if config.Delivery.InactiveAfterDays == 0 {
		config.Delivery.InactiveAfterDays = 1095
	}

	return config, nil
}
