//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"HelpdeskPulse/internal/biz"
	"HelpdeskPulse/internal/conf"
	"HelpdeskPulse/internal/data"
	"HelpdeskPulse/internal/server"
	"HelpdeskPulse/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.GLPI, *conf.Cache, *conf.Dashboard, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newApp,
	))
}
