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

	"github.com/Daskott/safeline/phone"
	"github.com/spf13/cobra"
)

func createPhoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phone",
		Short: "Work with phone numbers the way the server stores them",
	}

	cmd.AddCommand(createNormalizeCmd())

	return cmd
}

func createNormalizeCmd() *cobra.Command {
	var countryCode string

	cmd := &cobra.Command{
		Use:   "normalize <number>...",
		Short: "Print phone numbers in E.164 form",
		Long: `normalize prints each number the way safeline stores it, so you can check
how a contact's number will be matched against incoming SMS.

Numbers without a "+" or "00" prefix are read as national numbers of --country.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, number := range args {
				canonical, err := phone.Canonicalize(number, countryCode)
				if err != nil {
					return formattedError("%q: %v", number, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), canonical)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&countryCode, "country", "c", "1", "country calling code for national numbers")

	return cmd
}
