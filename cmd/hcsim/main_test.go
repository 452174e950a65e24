package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindUserConfig(t *testing.T) {
	t.Setenv("HCSIM_CONFIG", "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"equals form", []string{"--config=/tmp/a.yaml", "run"}, "/tmp/a.yaml"},
		{"separate value", []string{"run", "--config", "b.toml"}, "b.toml"},
		{"missing value", []string{"run", "--config"}, ""},
		{"config command", []string{"config", "init"}, ""},
		{"none", []string{"run", "--duration", "1s"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findUserConfig(tt.args))
		})
	}
}

func TestFindUserConfig_Env(t *testing.T) {
	t.Setenv("HCSIM_CONFIG", "/etc/hcsim.json")
	assert.Equal(t, "/etc/hcsim.json", findUserConfig([]string{"run"}))
	assert.Equal(t, "x.toml", findUserConfig([]string{"--config=x.toml"}))
}
