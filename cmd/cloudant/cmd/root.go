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

// Package cmd implements the cloudant CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-cloudant/cloudant"
)

type root struct {
	cmd *cobra.Command
	v   *viper.Viper
	log zerolog.Logger

	confFile string
	debug    bool
	raw      bool
}

// Execute runs the root command and returns the process exit code. The
// context cancels any in-flight request when the process is interrupted.
func Execute(ctx context.Context) int {
	r := rootCmd()
	if err := r.cmd.ExecuteContext(ctx); err != nil {
		r.log.Error().Err(err).Msg("command failed")
		if status := cloudant.HTTPStatus(err); status >= 400 {
			return status / 100
		}
		return 1
	}
	return 0
}

func rootCmd() *root {
	r := &root{
		v:   viper.New(),
		log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.InfoLevel),
	}
	r.cmd = &cobra.Command{
		Use:               "cloudant",
		Short:             "cloudant interacts with CouchDB and Cloudant servers",
		Long:              "This tool makes it easier to administrate and interact with the CouchDB/Cloudant HTTP API",
		PersistentPreRunE: r.init,
		SilenceErrors:     true,
		SilenceUsage:      true,
	}

	pf := r.cmd.PersistentFlags()
	pf.StringVar(&r.confFile, "config", "", "Path to config file (default ~/.cloudant.yaml)")
	pf.BoolVar(&r.debug, "debug", false, "Enable debug output")
	pf.BoolVar(&r.raw, "raw", false, "Emit raw server responses, without indentation")
	pf.String("server", "http://localhost:5984/", "Server DSN")
	pf.String("user", "", "Username, if not part of the DSN")
	pf.String("password", "", "Password, if not part of the DSN")
	pf.String("iam-api-key", "", "IBM Cloud IAM API key; takes precedence over user/password")
	pf.Int("retry", 0, "Retry requests rejected with 429 up to this many times")
	pf.Duration("retry-delay", 250*time.Millisecond, "Initial delay between retry attempts; doubles after each attempt")
	pf.Duration("request-timeout", 0, "The time limit for each request")

	bindFlags(r.v, pf)

	r.cmd.AddCommand(versionCmd(r))
	r.cmd.AddCommand(pingCmd(r))
	r.cmd.AddCommand(getCmd(r))
	r.cmd.AddCommand(putCmd(r))
	r.cmd.AddCommand(deleteCmd(r))
	r.cmd.AddCommand(allDocsCmd(r))
	r.cmd.AddCommand(findCmd(r))
	r.cmd.AddCommand(replicateCmd(r))

	return r
}

// bindFlags makes each settable flag readable from the config file and the
// CLOUDANT_* environment as well.
func bindFlags(v *viper.Viper, pf *pflag.FlagSet) {
	for _, flag := range []string{"server", "user", "password", "iam-api-key", "retry", "retry-delay", "request-timeout"} {
		if err := v.BindPFlag(flag, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func (r *root) init(*cobra.Command, []string) error {
	if r.debug {
		r.log = r.log.Level(zerolog.DebugLevel)
	}

	if r.confFile != "" {
		r.v.SetConfigFile(r.confFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			r.v.AddConfigPath(home)
		}
		r.v.SetConfigName(".cloudant")
		r.v.SetConfigType("yaml")
	}
	r.v.SetEnvPrefix("CLOUDANT")
	r.v.AutomaticEnv()
	if err := r.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if r.confFile != "" || !errors.As(err, &notFound) {
			return err
		}
		r.log.Debug().Msg("no config file found")
	} else {
		r.log.Debug().Str("file", r.v.ConfigFileUsed()).Msg("read config file")
	}
	return nil
}

// client connects to the configured server.
func (r *root) client() (*cloudant.Client, error) {
	dsn := r.v.GetString("server")
	opts := []cloudant.Option{
		cloudant.WithLogger(r.log),
	}
	if key := r.v.GetString("iam-api-key"); key != "" {
		opts = append(opts, cloudant.WithIAM(key))
	} else if user := r.v.GetString("user"); user != "" {
		opts = append(opts, cloudant.WithBasicAuth(user, r.v.GetString("password")))
	}
	if retries := r.v.GetInt("retry"); retries > 0 {
		opts = append(opts, cloudant.WithRetry(retries, r.v.GetDuration("retry-delay")))
	}
	r.log.Debug().Str("dsn", safeDSN(dsn)).Msg("connecting")
	return cloudant.New(dsn, opts...)
}

// ctx returns the command context, bounded by the request timeout when one
// is configured.
func (r *root) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if timeout := r.v.GetDuration("request-timeout"); timeout > 0 {
		return context.WithTimeout(cmd.Context(), timeout)
	}
	return cmd.Context(), func() {}
}

// output writes doc to the command's stdout as JSON, indented unless --raw
// was given.
func (r *root) output(w io.Writer, doc interface{}) error {
	enc := json.NewEncoder(w)
	if !r.raw {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}

// safeDSN strips credentials for log output.
func safeDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

// readDoc reads a JSON document from a file, or from stdin when name is "-".
func readDoc(cmd *cobra.Command, name string) (json.RawMessage, error) {
	var in io.Reader
	if name == "-" {
		in = cmd.InOrStdin()
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	doc, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	if !json.Valid(doc) {
		return nil, fmt.Errorf("%s: invalid JSON document", name)
	}
	return doc, nil
}
