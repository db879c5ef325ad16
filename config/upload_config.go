// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"fmt"
	"net/url"
)

// how the upload stage treats an existing study version
const (
	UploadBehaviorUpdate    = "update"
	UploadBehaviorInsertNew = "insert_new"
)

// how incoming metadata merges into existing rows
const (
	UploadMetadataFill      = "fill"
	UploadMetadataOverwrite = "overwrite"
)

// settings for the upload stage
type uploadConfig struct {
	Behavior     string         `yaml:"behavior"`
	MetadataOnly bool           `yaml:"metadata_only"`
	MetadataMode string         `yaml:"metadata_mode"`
	Database     databaseConfig `yaml:"database"`
	UseSsh       bool           `yaml:"use_ssh"`
	Ssh          sshConfig      `yaml:"ssh"`
}

// connection settings for the destination relational store
type databaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	SslMode     string `yaml:"ssl_mode"`
}

// settings for tunneling database traffic over SSH
type sshConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyFile    string `yaml:"key_file"`
	LocalPort  int    `yaml:"local_port"`
	RemoteHost string `yaml:"remote_host"`
	RemotePort int    `yaml:"remote_port"`
}

func (c *uploadConfig) applyDefaults() {
	c.Behavior = UploadBehaviorUpdate
	c.MetadataMode = UploadMetadataFill
	c.Database = databaseConfig{
		Host:        "localhost",
		Port:        5432,
		Name:        "neurostore",
		User:        "neurostore",
		PasswordEnv: "NSINGEST_DB_PASSWORD",
		SslMode:     "prefer",
	}
	c.Ssh = sshConfig{
		Port:       22,
		LocalPort:  5433,
		RemoteHost: "127.0.0.1",
		RemotePort: 5432,
	}
}

func (c uploadConfig) validate() error {
	if c.Behavior != UploadBehaviorUpdate && c.Behavior != UploadBehaviorInsertNew {
		return fmt.Errorf("invalid upload behavior: %s (must be %s or %s)",
			c.Behavior, UploadBehaviorUpdate, UploadBehaviorInsertNew)
	}
	if c.MetadataMode != UploadMetadataFill && c.MetadataMode != UploadMetadataOverwrite {
		return fmt.Errorf("invalid upload metadata_mode: %s (must be %s or %s)",
			c.MetadataMode, UploadMetadataFill, UploadMetadataOverwrite)
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d (must be 0-65535)", c.Database.Port)
	}
	if c.UseSsh {
		if c.Ssh.Host == "" {
			return fmt.Errorf("upload use_ssh is set but no ssh host was provided")
		}
		if c.Ssh.User == "" {
			return fmt.Errorf("upload use_ssh is set but no ssh user was provided")
		}
	}
	return nil
}

// ConnString renders a pgx connection string for the destination store. The
// password is supplied by the caller, which resolves it from the environment
// or the credentials file. With SSH tunneling enabled, traffic is pointed at
// the local forwarded port instead of the database host.
func (c uploadConfig) ConnString(password string) string {
	host := c.Database.Host
	port := c.Database.Port
	if c.UseSsh {
		host = "127.0.0.1"
		port = c.Ssh.LocalPort
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User), url.QueryEscape(password),
		host, port, c.Database.Name, c.Database.SslMode)
}
