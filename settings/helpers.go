package settings

import (
	"net/url"
	"time"

	"github.com/dieguito9000/rskj/errors"
	"github.com/ordishs/gocore"
)

func getString(key, defaultValue string) string {
	value, found := gocore.Config().Get(key)
	if !found {
		return defaultValue
	}

	return value
}

func getInt(key string, defaultValue int) int {
	value, found := gocore.Config().GetInt(key)
	if !found {
		return defaultValue
	}

	return value
}

func getURL(key, defaultValue string) *url.URL {
	value, err, _ := gocore.Config().GetURL(key, defaultValue)
	if err != nil {
		panic(errors.NewConfigurationError("invalid url for %s", key, err))
	}

	return value
}

func getBool(key string, defaultValue bool) bool {
	return gocore.Config().GetBool(key, defaultValue)
}

// getDuration accepts any time.ParseDuration value ("5000ms", "10m").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, err, _ := gocore.Config().GetDuration(key, defaultValue)
	if err != nil {
		panic(errors.NewConfigurationError("invalid duration for %s", key, err))
	}

	return value
}
