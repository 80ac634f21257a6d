// Package config loads runtime settings from the environment and the
// declared build configuration from a YAML file.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/k8ika0s/crossbuild/internal/paths"
)

// Settings hold runtime options that do not belong in a build file. Log
// options are flags of the command line.
type Settings struct {
	Jobs     int
	HTTPAddr string
	Token    string

	CMakeBin        string
	CMakeArgs       []string
	StripBin        string
	BuildTimeout    time.Duration
	GracePeriod     time.Duration
	ArchivePackage  bool
	PublishParallel int

	CacheBackend  string
	CacheTTL      time.Duration
	RedisURL      string
	RedisCacheKey string

	EventsBackend  string
	EventsFile     string
	RedisEventsKey string
	KafkaBrokers   string
	KafkaTopic     string

	ObjectStoreEndpoint string
	ObjectStoreBucket   string
	ObjectStoreAccess   string
	ObjectStoreSecret   string
	ObjectStorePrefix   string
	ObjectStoreUseSSL   bool

	CASRegistryURL  string
	CASRegistryRepo string
	CASRegistryUser string
	CASRegistryPass string
	CASPushEnabled  bool

	ControlPlaneURL   string
	ControlPlaneToken string
	HeartbeatInterval time.Duration
	PostgresDSN       string
}

// FromEnv reads settings, falling back to defaults.
func FromEnv() Settings {
	return Settings{
		Jobs:     getenvInt("CROSSBUILD_JOBS", runtime.NumCPU()),
		HTTPAddr: getenv("CROSSBUILD_HTTP_ADDR", ":9000"),
		Token:    getenv("CROSSBUILD_TOKEN", ""),

		CMakeBin:        getenv("CROSSBUILD_CMAKE_BIN", "cmake"),
		CMakeArgs:       parseArgs(getenv("CROSSBUILD_CMAKE_ARGS", "")),
		StripBin:        getenv("CROSSBUILD_STRIP_BIN", ""),
		BuildTimeout:    time.Duration(getenvInt("CROSSBUILD_BUILD_TIMEOUT_SEC", 0)) * time.Second,
		GracePeriod:     time.Duration(getenvInt("CROSSBUILD_GRACE_SEC", 30)) * time.Second,
		ArchivePackage:  getenvBool("CROSSBUILD_ARCHIVE", false),
		PublishParallel: getenvInt("CROSSBUILD_PUBLISH_PARALLEL", 4),

		CacheBackend:  getenv("CROSSBUILD_CACHE_BACKEND", "memory"),
		CacheTTL:      time.Duration(getenvInt("CROSSBUILD_CACHE_TTL_SEC", 86400)) * time.Second,
		RedisURL:      getenv("REDIS_URL", ""),
		RedisCacheKey: getenv("REDIS_CACHE_PREFIX", "crossbuild:manifest:"),

		EventsBackend:  getenv("CROSSBUILD_EVENTS_BACKEND", "none"),
		EventsFile:     getenv("CROSSBUILD_EVENTS_FILE", paths.EventsFile()),
		RedisEventsKey: getenv("REDIS_EVENTS_KEY", "crossbuild:events"),
		KafkaBrokers:   getenv("KAFKA_BROKERS", ""),
		KafkaTopic:     getenv("KAFKA_TOPIC", "crossbuild.events"),

		ObjectStoreEndpoint: getenv("OBJECT_STORE_ENDPOINT", ""),
		ObjectStoreBucket:   getenv("OBJECT_STORE_BUCKET", ""),
		ObjectStoreAccess:   getenv("OBJECT_STORE_ACCESS_KEY", ""),
		ObjectStoreSecret:   getenv("OBJECT_STORE_SECRET_KEY", ""),
		ObjectStorePrefix:   getenv("OBJECT_STORE_PREFIX", "crossbuild"),
		ObjectStoreUseSSL:   getenvBool("OBJECT_STORE_USE_SSL", false),

		CASRegistryURL:  getenv("CAS_REGISTRY_URL", ""),
		CASRegistryRepo: getenv("CAS_REGISTRY_REPO", "crossbuild"),
		CASRegistryUser: getenv("CAS_REGISTRY_USER", ""),
		CASRegistryPass: getenv("CAS_REGISTRY_PASSWORD", ""),
		CASPushEnabled:  getenvBool("CAS_PUSH_ENABLED", false),

		ControlPlaneURL:   getenv("CONTROL_PLANE_URL", ""),
		ControlPlaneToken: getenv("CONTROL_PLANE_TOKEN", ""),
		HeartbeatInterval: time.Duration(getenvInt("CROSSBUILD_HEARTBEAT_SEC", 15)) * time.Second,
		PostgresDSN:       getenv("POSTGRES_DSN", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		}
	}
	return def
}

func parseArgs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
