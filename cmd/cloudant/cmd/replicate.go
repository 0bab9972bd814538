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
	"time"

	"github.com/spf13/cobra"

	"github.com/go-cloudant/cloudant"
)

type replicate struct {
	*root
	continuous   bool
	createTarget bool
	follow       bool
	interval     time.Duration
}

func replicateCmd(r *root) *cobra.Command {
	c := &replicate{root: r}
	cmd := &cobra.Command{
		Use:   "replicate <source> <target>",
		Short: "Replicate a database",
		Long:  "Start a replication by writing a document to the _replicator database",
		Args:  cobra.ExactArgs(2),
		RunE:  c.RunE,
	}
	cmd.Flags().BoolVar(&c.continuous, "continuous", false, "Make the replication continuous")
	cmd.Flags().BoolVar(&c.createTarget, "create-target", false, "Create the target database if it does not exist")
	cmd.Flags().BoolVar(&c.follow, "follow", false, "Wait for the replication to complete or fail")
	cmd.Flags().DurationVar(&c.interval, "poll-interval", time.Second, "Scheduler poll interval used with --follow")
	return cmd
}

func (c *replicate) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	opts := cloudant.Options{}
	if c.continuous {
		opts["continuous"] = true
	}
	if c.createTarget {
		opts["create_target"] = true
	}
	repl, err := client.Replicator().CreateReplication(cmd.Context(), args[0], args[1], opts)
	if err != nil {
		return err
	}
	c.log.Info().Str("id", repl.ID).Msg("replication started")
	if !c.follow {
		return c.output(cmd.OutOrStdout(), repl)
	}
	state, err := client.Replicator().Follow(cmd.Context(), repl.ID, c.interval)
	if err != nil {
		return err
	}
	return c.output(cmd.OutOrStdout(), map[string]interface{}{
		"id":    repl.ID,
		"state": state,
	})
}
