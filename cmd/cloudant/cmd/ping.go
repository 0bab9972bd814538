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
	"errors"

	"github.com/spf13/cobra"
)

type ping struct {
	*root
}

func pingCmd(r *root) *cobra.Command {
	c := &ping{root: r}
	return &cobra.Command{
		Use:   "ping",
		Short: "Ping a server",
		Long:  "Ping a server's /_up endpoint to determine availability to serve requests",
		RunE:  c.RunE,
	}
}

func (c *ping) RunE(cmd *cobra.Command, _ []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx(cmd)
	defer cancel()
	up, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !up {
		return errors.New("server down")
	}
	c.log.Info().Msg("server is up")
	return nil
}
