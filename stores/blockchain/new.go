package blockchain

import (
	"net/url"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/settings"
	"github.com/dieguito9000/rskj/stores/blockchain/memory"
	"github.com/dieguito9000/rskj/stores/blockchain/sql"
	"github.com/dieguito9000/rskj/ulogger"
)

func NewStore(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (Store, error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("no blockchain store url configured")
	}

	switch storeURL.Scheme {
	case "memory":
		return memory.New(), nil
	case "postgres", "sqlitememory", "sqlite":
		return sql.New(logger, storeURL, tSettings)
	}

	return nil, errors.NewConfigurationError("unknown blockchain store scheme: %s", storeURL.Scheme)
}
