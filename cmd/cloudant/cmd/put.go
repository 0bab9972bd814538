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

type put struct {
	*root
	docFile string
	rev     string
}

func putCmd(r *root) *cobra.Command {
	c := &put{root: r}
	cmd := &cobra.Command{
		Use:   "put <database> <document>",
		Short: "Create or update a document",
		Long:  "Store the JSON document read from --data (or stdin) with the HTTP PUT verb",
		Args:  cobra.ExactArgs(2),
		RunE:  c.RunE,
	}
	cmd.Flags().StringVarP(&c.docFile, "data", "d", "-", "File containing the JSON document, or - for stdin")
	cmd.Flags().StringVar(&c.rev, "rev", "", "Revision to update")
	return cmd
}

func (c *put) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	doc, err := readDoc(cmd, c.docFile)
	if err != nil {
		return err
	}
	var opts cloudant.Options
	if c.rev != "" {
		opts = cloudant.Options{"rev": c.rev}
	}
	ctx, cancel := c.ctx(cmd)
	defer cancel()
	rev, err := client.DB(args[0]).Put(ctx, args[1], doc, opts)
	if err != nil {
		return err
	}
	return c.output(cmd.OutOrStdout(), map[string]interface{}{
		"ok":  true,
		"id":  args[1],
		"rev": rev,
	})
}
