package config

// ConfigDiff describes what changed between two configs. Fields that the
// running bot can pick up live are reported individually; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AllowedRoleChanged bool
	NewAllowedRoleID   string

	MaxFileSizeChanged bool
	NewMaxFileSize     ByteSize

	// RestartRequired names changed fields that only take effect after a
	// restart, using their YAML paths.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AllowedRoleChanged || d.MaxFileSizeChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Discord.AllowedRoleID != new.Discord.AllowedRoleID {
		d.AllowedRoleChanged = true
		d.NewAllowedRoleID = new.Discord.AllowedRoleID
	}
	if old.Discord.MaxFileSize != new.Discord.MaxFileSize {
		d.MaxFileSizeChanged = true
		d.NewMaxFileSize = new.Discord.MaxFileSize
	}

	restart := []struct {
		path    string
		changed bool
	}{
		{"discord.token", old.Discord.Token != new.Discord.Token},
		{"discord.token_type", old.Discord.TokenType != new.Discord.TokenType},
		{"discord.api_base_url", old.Discord.APIBaseURL != new.Discord.APIBaseURL},
		{"discord.user_agent", old.Discord.UserAgent != new.Discord.UserAgent},
		{"discord.request_timeout", old.Discord.RequestTimeout != new.Discord.RequestTimeout},
		{"discord.guild_id", old.Discord.GuildID != new.Discord.GuildID},
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"telemetry.service_name", old.Telemetry.ServiceName != new.Telemetry.ServiceName},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.path)
		}
	}

	return d
}
