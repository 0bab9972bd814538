// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/go-cloudant/cloudant"
)

type get struct {
	*root
	rev string
}

func getCmd(r *root) *cobra.Command {
	c := &get{root: r}
	cmd := &cobra.Command{
		Use:     "get <database> <document>",
		Aliases: []string{"doc"},
		Short:   "Get a document",
		Long:    "Fetch a document with the HTTP GET verb",
		Args:    cobra.ExactArgs(2),
		RunE:    c.RunE,
	}
	cmd.Flags().StringVar(&c.rev, "rev", "", "Fetch the specified revision")
	return cmd
}

func (c *get) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	var opts cloudant.Options
	if c.rev != "" {
		opts = cloudant.Options{"rev": c.rev}
	}
	ctx, cancel := c.ctx(cmd)
	defer cancel()
	doc, err := client.DB(args[0]).Get(ctx, args[1], opts)
	if err != nil {
		return err
	}
	return c.output(cmd.OutOrStdout(), json.RawMessage(doc))
}
