/*
Copyright © 2021 Edmond Cotterell

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	devConfig "github.com/Daskott/safeline/dev/config"
	"github.com/Daskott/safeline/server"
	"github.com/Daskott/safeline/shared"
	"github.com/Daskott/safeline/utils"
	"github.com/go-playground/validator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverConfigFile string

func createServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start a safeline server",
		Long: `The safeline server connects users with their guardians. It shares live
locations, sends SOS alerts to trusted contacts & schedules fake calls.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := serverConfigFile
			if configFile == "" && !isDevEnv {
				return formattedError("\"sconfig\" not set")
			}

			config, err := serverConfig(configFile, isDevEnv)
			if err != nil {
				return err
			}

			server.Start(config, isDevEnv)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverConfigFile, "sconfig", "", "config for server (default is dev/config/server.yml with --dev)")

	return cmd
}

// serverConfig reads the server config from configFile, lets env vars override
// any key (e.g. SAFELINE_LISTENER_PORT for safeline.listener.port) and
// validates the result
func serverConfig(configFile string, devMode bool) (shared.ServerConfig, error) {
	var serverCfg shared.ServerConfig
	config := viper.New()

	if configFile == "" && devMode {
		path, err := devConfigFilePath()
		if err != nil {
			return serverCfg, err
		}
		configFile = path
	}

	setServerDefaults(config)

	config.SetConfigFile(configFile)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	// Secrets are usually kept out of the config file
	config.BindEnv("sqlite.passPhrase", "SQLITE_PASS_PHRASE")
	config.BindEnv("safeline.privateKeyPem", "SAFELINE_PRIVATE_KEY_PEM")
	config.BindEnv("google.applicationCredentials", "GOOGLE_APPLICATION_CREDENTIALS")
	config.BindEnv("twilio.accountSid", "TWILIO_ACCOUNT_SID")
	config.BindEnv("twilio.authToken", "TWILIO_AUTH_TOKEN")
	config.BindEnv("redis.password", "REDIS_PASSWORD")
	config.BindEnv("mqtt.password", "MQTT_PASSWORD")

	if err := config.ReadInConfig(); err != nil {
		return serverCfg, formattedError("error reading server config file: %v", err)
	}

	if err := config.Unmarshal(&serverCfg); err != nil {
		return serverCfg, formattedError("invalid server config: %v", err)
	}

	if err := validator.New().Struct(serverCfg); err != nil {
		return serverCfg, formattedError("invalid server config in %s: %v", config.ConfigFileUsed(), err)
	}

	return serverCfg, nil
}

func setServerDefaults(config *viper.Viper) {
	config.SetDefault("safeline.workers", 2)
	config.SetDefault("safeline.cron.timeZone", "UTC")
	config.SetDefault("safeline.listener.port", 3000)
	config.SetDefault("safeline.phone.defaultCountryCode", "1")
	config.SetDefault("safeline.invitations.expiryInHours", 168)
	config.SetDefault("safeline.invitations.maxResends", 3)
	config.SetDefault("safeline.location.staleAfterInMinutes", 10)
	config.SetDefault("safeline.sos.countdownInSeconds", 10)
	config.SetDefault("safeline.sos.maxCountdownInSeconds", 120)
	config.SetDefault("mqtt.topicPrefix", "safeline")
}

// devConfigFilePath returns dev/config/server.yml, and creates it from the
// default dev config when it doesn't exist yet
func devConfigFilePath() (string, error) {
	configDir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	configFilePath := filepath.Join(configDir, "dev", "config", "server.yml")
	if utils.FileExist(configFilePath) {
		return configFilePath, nil
	}

	if err := utils.CreateDirIfNotExist(filepath.Dir(configFilePath)); err != nil {
		return "", err
	}

	return configFilePath, os.WriteFile(configFilePath, []byte(devConfig.DEFAULT_SERVER_YML), 0600)
}
