package discord

import (
	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/media"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Provider, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewProvider(c.DiscordToken, c.DiscordGuildID, c.DiscordRoomCategoryID), nil
	})
	do.Provide(injector, func(i do.Injector) (media.Provider, error) {
		return do.MustInvoke[*Provider](i), nil
	})
}
