package btswitch

import (
	_ "embed"
	"fmt"

	"fyne.io/systray"
)

//go:embed assets/icon.png
var trayIconData []byte

// RunTray shows a tray icon with one menu item per configured profile alias and blocks
// until the user quits or btswitch is interrupted
func (b *BTSwitch) RunTray() {
	logger := b.logger.Named("tray")
	b.runningWithTray = true

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(trayIconData, trayIconData)
		systray.SetTitle(clientName)
		systray.SetTooltip(clientName)

		profiles := b.currConf().Profiles
		if len(profiles) == 0 {
			logger.Warn("No profiles configured, the tray menu will be empty")
		}

		for _, alias := range profiles {
			item := systray.AddMenuItem(alias.Name, fmt.Sprintf("Switch to %s", alias.Profile))
			go b.handleProfileClicks(item, alias)
		}

		if b.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(b.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop btswitch and quit")

		go func() {
			<-quit.ClickedCh
			logger.Info("Quit menu item clicked, stopping")

			b.signalStop()
		}()

		reloaded := b.configMan.SubscribeToChanges()
		go b.configMan.WatchConfigFileChanges()
		go b.watchConfigReloads(reloaded)
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	go func() {
		b.Wait()
		systray.Quit()
	}()

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (b *BTSwitch) handleProfileClicks(item *systray.MenuItem, alias ProfileAlias) {
	for range item.ClickedCh {
		b.logger.Infow("Profile menu item clicked", "name", alias.Name, "profile", alias.Profile)

		// already resolved, a profile id matching another alias's name must not be remapped
		res, err := b.switchProfile(alias.Profile)
		if err != nil {
			continue
		}

		if res.Outcome.Succeeded() {
			systray.SetTooltip(fmt.Sprintf("%s: %s", clientName, alias.Name))
		}
	}
}

func (b *BTSwitch) watchConfigReloads(reloaded <-chan bool) {
	for range reloaded {
		// menu items are built once, everything else is read per switch
		b.logger.Info("Config reloaded, new profile aliases show up in the tray after a restart")
	}
}

func (b *BTSwitch) stopTray() {
	b.logger.Debug("Quitting tray")
	systray.Quit()
}
