// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/distromirrors/mirrorsd/core"
	"github.com/op/go-logging"
	"gopkg.in/yaml.v2"
)

var (
	log = logging.MustGetLogger("main")

	defaultConfig = configuration{
		ListenAddress:          ":8080",
		RPCListenAddress:       ":8081",
		Gzip:                   false,
		RedisAddress:           "127.0.0.1:6379",
		RedisDB:                0,
		LogDir:                 "",
		GeoipDatabasePath:      "/usr/share/GeoIP/GeoLite2-City.mmdb",
		AsnDatabasePath:        "/usr/share/GeoIP/GeoLite2-ASN.mmdb",
		SqlitePath:             "mirrorsd.sqlite3",
		MirrorsDir:             "",
		SchemaDir:              "",
		AllowedOutdate:         "24h",
		UpdateInterval:         300,
		MirrorConcurrency:      100,
		IsoProbeConcurrency:    3,
		RepoProbeConcurrency:   5,
		RandomizeWithinKm:      500,
		LengthGeoMirrorsList:   10,
		LengthCloudMirrorsList: 10,
		MirrorsListCacheExpire: 7200,
		SelectionCacheExpire:   3600,
		GeocoderCacheExpire:    3600,
		SubnetFeedCacheExpire:  86400,
		FlapExpire:             10800,
		HTTPTotalTimeout:       15,
		HTTPConnectTimeout:     10,
		DNSTimeout:             5,
		VaultMirror:            "",
	}
	config      *configuration
	configMutex sync.RWMutex

	subscribers     []chan bool
	subscribersLock sync.RWMutex
)

// configuration holds every knob the processor, selector, store, and
// frontend adapters read. Fields are loaded from YAML and then layered
// with environment-variable overrides in ReloadConfig.
type configuration struct {
	ListenAddress    string `yaml:"ListenAddress"`
	RPCListenAddress string `yaml:"RPCListenAddress"`
	Gzip             bool   `yaml:"Gzip"`

	RedisAddress            string      `yaml:"RedisAddress"`
	RedisAddressRO          string      `yaml:"RedisAddressRO"`
	RedisPassword           string      `yaml:"RedisPassword"`
	RedisDB                 int         `yaml:"RedisDB"`
	RedisSentinelMasterName string      `yaml:"RedisSentinelMasterName"`
	RedisSentinels          []sentinels `yaml:"RedisSentinels"`

	LogDir string `yaml:"LogDir"`

	GeoipDatabasePath string `yaml:"GeoipDatabasePath"`
	AsnDatabasePath   string `yaml:"AsnDatabasePath"`
	ContinentDBPath   string `yaml:"ContinentDBPath"`

	SqlitePath        string `yaml:"SqlitePath"`
	MirrorsDir        string `yaml:"MirrorsDir"`
	SchemaDir         string `yaml:"SchemaDir"`
	ServiceConfigPath string `yaml:"ServiceConfigPath"`

	AllowedOutdate string              `yaml:"AllowedOutdate"`
	Versions       []string            `yaml:"Versions"`
	VaultVersions  []string            `yaml:"VaultVersions"`
	Duplicated     map[string]string   `yaml:"DuplicatedVersions"`
	OptionalModule map[string][]string `yaml:"OptionalModuleVersions"`
	Arches         map[string][]string `yaml:"Arches"`
	RequiredProtos []string            `yaml:"RequiredProtocols"`
	Repos          []RepoDecl          `yaml:"Repos"`
	VaultMirror    string              `yaml:"VaultMirror"`

	UpdateInterval int `yaml:"UpdateInterval"`

	MirrorConcurrency    int `yaml:"MirrorConcurrency"`
	IsoProbeConcurrency  int `yaml:"IsoProbeConcurrency"`
	RepoProbeConcurrency int `yaml:"RepoProbeConcurrency"`

	RandomizeWithinKm      float64 `yaml:"RandomizeWithinKm"`
	LengthGeoMirrorsList   int     `yaml:"LengthGeoMirrorsList"`
	LengthCloudMirrorsList int     `yaml:"LengthCloudMirrorsList"`

	MirrorsListCacheExpire int `yaml:"MirrorsListCacheExpire"`
	SelectionCacheExpire   int `yaml:"SelectionCacheExpire"`
	GeocoderCacheExpire    int `yaml:"GeocoderCacheExpire"`
	SubnetFeedCacheExpire  int `yaml:"SubnetFeedCacheExpire"`
	FlapExpire             int `yaml:"FlapExpire"`

	HTTPTotalTimeout   int `yaml:"HTTPTotalTimeout"`
	HTTPConnectTimeout int `yaml:"HTTPConnectTimeout"`
	DNSTimeout         int `yaml:"DNSTimeout"`

	UpdateKey   string `yaml:"UpdateKey"`
	RPCPassword string `yaml:"RPCPassword"`

	// ClusterEnabled turns on the optional multi-instance work-sharding
	// mode (daemon.Cluster): peer instances announce themselves over the
	// shared cache and split per-mirror probing between them.
	ClusterEnabled bool `yaml:"ClusterEnabled"`

	SentryDSN string `yaml:"-"`
	TestIP    string `yaml:"-"`
}

// RepoDecl mirrors mirrors.RepoDecl; duplicated here (rather than imported)
// to keep config free of a dependency on the mirrors package.
type RepoDecl struct {
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	Arches   []string `yaml:"arches"`
	Versions []string `yaml:"versions"`
	Vault    bool     `yaml:"vault"`
}

type sentinels struct {
	Host string `yaml:"Host"`
}

// LoadConfig loads the configuration file if it has not yet been loaded
func LoadConfig() {
	if config != nil {
		return
	}
	err := ReloadConfig()
	if err != nil {
		log.Fatal(err)
	}
}

// ReloadConfig reloads the configuration file and updates it globally
func ReloadConfig() error {
	if core.ConfigFile == "" {
		if fileExists("./mirrorsd.conf") {
			core.ConfigFile = "./mirrorsd.conf"
		} else if fileExists("/etc/mirrorsd.conf") {
			core.ConfigFile = "/etc/mirrorsd.conf"
		}
	}

	c := defaultConfig

	if core.ConfigFile != "" {
		content, err := ioutil.ReadFile(core.ConfigFile)
		if err != nil {
			return fmt.Errorf("configuration could not be read: %s", err)
		}
		if err := yaml.Unmarshal(content, &c); err != nil {
			return fmt.Errorf("%s in %s", err, core.ConfigFile)
		}
	}

	applyEnvOverrides(&c)

	if c.RandomizeWithinKm <= 0 {
		return fmt.Errorf("RandomizeWithinKm must be > 0")
	}
	if c.MirrorsDir != "" {
		abs, err := filepath.Abs(c.MirrorsDir)
		if err != nil {
			return fmt.Errorf("invalid MirrorsDir: %s", err)
		}
		c.MirrorsDir = abs
	}
	if c.MirrorConcurrency <= 0 {
		c.MirrorConcurrency = 100
	}

	configMutex.Lock()
	config = &c
	configMutex.Unlock()

	notifySubscribers()

	return nil
}

// applyEnvOverrides layers the process environment over the YAML-decoded
// configuration. These variables are the ones named by the external
// interface: they are environment, not YAML, by definition.
func applyEnvOverrides(c *configuration) {
	if v := os.Getenv("CONFIG_ROOT"); v != "" {
		c.MirrorsDir = v
	}
	if v := os.Getenv("SOURCE_PATH"); v != "" {
		c.SchemaDir = v
	}
	if v := os.Getenv("GEOIP_PATH"); v != "" {
		c.GeoipDatabasePath = v
	}
	if v := os.Getenv("ASN_PATH"); v != "" {
		c.AsnDatabasePath = v
	}
	if v := os.Getenv("CONTINENT_PATH"); v != "" {
		c.ContinentDBPath = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SqlitePath = v
	}
	if v := os.Getenv("REDIS_URI"); v != "" {
		c.RedisAddress = v
	}
	if v := os.Getenv("REDIS_URI_RO"); v != "" {
		c.RedisAddressRO = v
	}
	if v := os.Getenv("TEST_IP_ADDRESS"); v != "" {
		c.TestIP = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.SentryDSN = v
	}
}

// GetConfig returns a pointer to a configuration object
func GetConfig() *configuration {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if config == nil {
		panic("configuration not loaded")
	}

	return config
}

func SubscribeConfig(subscriber chan bool) {
	subscribersLock.Lock()
	defer subscribersLock.Unlock()

	subscribers = append(subscribers, subscriber)
}

func notifySubscribers() {
	subscribersLock.RLock()
	defer subscribersLock.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- true:
		default:
			// Don't block if the subscriber is unavailable
			// and discard the message.
		}
	}
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
