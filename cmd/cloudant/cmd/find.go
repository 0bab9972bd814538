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

type find struct {
	*root
	pageSize int
}

func findCmd(r *root) *cobra.Command {
	c := &find{root: r}
	cmd := &cobra.Command{
		Use:   "find <database> <selector>",
		Short: "Query a database with a Mango selector",
		Long:  `Query the database's _find endpoint. The selector is a JSON Mango selector, e.g. '{"species":"cow"}'.`,
		Args:  cobra.ExactArgs(2),
		RunE:  c.RunE,
	}
	cmd.Flags().IntVar(&c.pageSize, "page-size", cloudant.DefaultPageSize, "Number of documents to fetch per request")
	return cmd
}

func (c *find) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	var selector json.RawMessage
	if err := json.Unmarshal([]byte(args[1]), &selector); err != nil {
		return err
	}
	ctx, cancel := c.ctx(cmd)
	defer cancel()
	iter := client.DB(args[0]).Find(cloudant.Options{"selector": selector}).WithPageSize(c.pageSize).Iterator()
	for iter.Next(ctx) {
		if err := c.output(cmd.OutOrStdout(), iter.Doc()); err != nil {
			return err
		}
	}
	return iter.Err()
}
