// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd holds helpers shared by the hostel binaries.
package cmd

import (
	"errors"
	"flag"
	"os"

	"bitbucket.org/creachadair/shell"
)

// ParseFlagFile parses a set of flags from the file at path into the command
// line flag set. Flags given on the command line take precedence over those in
// the file. Environment variables in the file are expanded.
func ParseFlagFile(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseFlags(flag.CommandLine, string(contents), os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, contents string, cliArgs []string) error {
	args, ok := shell.Split(os.ExpandEnv(contents))
	if !ok {
		return errors.New("flag file has unbalanced quotes")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	// Parse the command line again so that it overrides the file.
	return fs.Parse(cliArgs)
}
