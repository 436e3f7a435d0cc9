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
	"fmt"
	"os"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile  string
	isDevEnv bool

	warningLabel = colors.Yellow("Warning:")
)

// rootCmd represents the base command when called without any subcommands
var rootCmd *cobra.Command

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(loadEnvFile)

	rootCmd = createRootCmd()
	rootCmd.Version = fmt.Sprintf("v%s", version.Version)

	rootCmd.AddCommand(createServerCmd())
	rootCmd.AddCommand(createPhoneCmd())
}

func createRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "safeline",
		Short: `safeline keeps the people you trust one tap away.

It runs the safeline server: guardian invitations, live location sharing,
SOS alerts over SMS and scheduled fake calls.`,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load before reading config (default is .env when present)")
	cmd.PersistentFlags().BoolVarP(&isDevEnv, "dev", "", false, "run in development mode")

	return cmd
}

// loadEnvFile loads secrets from an env file into the process env, without
// overriding vars that are already set
func loadEnvFile() {
	if envFile != "" {
		cobra.CheckErr(godotenv.Load(envFile))
		return
	}

	if _, err := os.Stat(".env"); err != nil {
		return
	}

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, warningLabel, "unable to load .env:", err)
	}
}

func formattedError(format string, a ...interface{}) error {
	return fmt.Errorf(colors.Red(format), a...)
}
