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
	"github.com/spf13/cobra"

	"github.com/go-cloudant/cloudant"
)

type allDocs struct {
	*root
	includeDocs bool
	descending  bool
	pageSize    int
}

func allDocsCmd(r *root) *cobra.Command {
	c := &allDocs{root: r}
	cmd := &cobra.Command{
		Use:     "all-docs <database>",
		Aliases: []string{"ls"},
		Short:   "List the documents in a database",
		Long:    "Stream the database's _all_docs index, one row per line, fetching a page at a time",
		Args:    cobra.ExactArgs(1),
		RunE:    c.RunE,
	}
	cmd.Flags().BoolVar(&c.includeDocs, "include-docs", false, "Include document bodies")
	cmd.Flags().BoolVar(&c.descending, "descending", false, "Return rows in reverse order")
	cmd.Flags().IntVar(&c.pageSize, "page-size", cloudant.DefaultPageSize, "Number of rows to fetch per request")
	return cmd
}

func (c *allDocs) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	opts := cloudant.Options{}
	if c.includeDocs {
		opts["include_docs"] = true
	}
	if c.descending {
		opts["descending"] = true
	}
	ctx, cancel := c.ctx(cmd)
	defer cancel()
	iter := client.DB(args[0]).AllDocs(opts).WithPageSize(c.pageSize).Iterator()
	for iter.Next(ctx) {
		if err := c.output(cmd.OutOrStdout(), iter.Row()); err != nil {
			return err
		}
	}
	return iter.Err()
}
