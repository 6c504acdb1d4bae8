package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of key, or "" when unset or blank.
func lookup(key string) string {
	v, _ := os.LookupEnv(key)
	return strings.TrimSpace(v)
}

func getenv(key, def string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := lookup(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(lookup(key))
	if err != nil {
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(lookup(key))
	if err != nil {
		return def
	}
	return d
}

// envSet parses a comma separated list into an upper-cased set.
func envSet(key, def string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range strings.Split(getenv(key, def), ",") {
		if item = strings.ToUpper(strings.TrimSpace(item)); item != "" {
			set[item] = true
		}
	}
	return set
}
