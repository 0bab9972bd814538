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
)

type del struct {
	*root
	rev string
}

func deleteCmd(r *root) *cobra.Command {
	c := &del{root: r}
	cmd := &cobra.Command{
		Use:     "delete <database> <document>",
		Aliases: []string{"del", "rm"},
		Short:   "Delete a document",
		Long:    "Delete a document with the HTTP DELETE verb. Unless --rev is given, the current revision is fetched first.",
		Args:    cobra.ExactArgs(2),
		RunE:    c.RunE,
	}
	cmd.Flags().StringVar(&c.rev, "rev", "", "Revision to delete")
	return cmd
}

func (c *del) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx(cmd)
	defer cancel()
	db := client.DB(args[0])
	rev := c.rev
	if rev == "" {
		rev, err = db.GetRev(ctx, args[1])
		if err != nil {
			return err
		}
	}
	newRev, err := db.Delete(ctx, args[1], rev)
	if err != nil {
		return err
	}
	return c.output(cmd.OutOrStdout(), map[string]interface{}{
		"ok":  true,
		"id":  args[1],
		"rev": newRev,
	})
}
