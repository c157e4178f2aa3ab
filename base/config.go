package base

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

type MQTTTopic struct {
	Topic    string `json:"Topic" yaml:"Topic"`
	Qos      int    `json:"Qos" yaml:"Qos"`
	Retained bool   `json:"Retained" yaml:"Retained"`
}

type MQTT struct {
	Report   MQTTTopic `json:"Report" yaml:"Report"`
	Broker   string    `json:"Broker" yaml:"Broker"` // empty: reports are not published
	Clientid string    `json:"Clientid" yaml:"Clientid"`
	Username string    `json:"Username" yaml:"Username"`
	Password string    `json:"Password" yaml:"Password"`
}

type HttpServer struct {
	ServerAddr      string `json:"ServerAddr" yaml:"ServerAddr"` // in the form "host:port"
	HealthCheckURI  string `json:"HealthCheckURI" yaml:"HealthCheckURI"`
	ShutdownTimeout int    `json:"ShutdownTimeout" yaml:"ShutdownTimeout"` // seconds
}

type LOG struct {
	LogToFile bool   `json:"LogToFile" yaml:"LogToFile"`
	Format    string `json:"Format" yaml:"Format"`     // json, text
	LogLevel  string `json:"LogLevel" yaml:"LogLevel"` // panic, fatal, error, warn warning, info, debug, trace
}

type DBC struct {
	DBCPath    string `json:"DBCPath" yaml:"DBCPath"`
	DBCExcel   string `json:"DBCExcel" yaml:"DBCExcel"`
	OutputPath string `json:"OutputPath" yaml:"OutputPath"` // empty: write to stdout
}

type Config struct {
	MQTT            `json:"MQTT" yaml:"MQTT"`
	HttpServer      `json:"HttpServer" yaml:"HttpServer"`
	DBC             `json:"DBC" yaml:"DBC"`
	LOG             `json:"LOG" yaml:"LOG"`
	WhiteListFile   string `json:"WhiteListFile" yaml:"WhiteListFile"`
	EnableWhiteList bool   `json:"EnableWhiteList" yaml:"EnableWhiteList"`
}

func NewConfig() *Config {
	return &Config{
		MQTT{Report: MQTTTopic{Topic: "dbc/validation", Qos: 1}, Clientid: "dbcview"},
		HttpServer{ServerAddr: ":8080", HealthCheckURI: "/ping", ShutdownTimeout: 5},
		DBC{DBCPath: "./can.dbc", DBCExcel: "./can.xlsx"},
		LOG{false, "text", "info"},
		"",
		false,
	}
}

var GConfig = NewConfig()

// LoadConfig reads a JSON or YAML file over the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "read config %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, cfg)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, nil
}
