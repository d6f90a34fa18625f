package cmd

import (
	"testing"
)

func TestRootCommand(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}
	if rootCmd.Use != "migrate" {
		t.Errorf("expected Use to be 'migrate', got %q", rootCmd.Use)
	}
}

func TestCommandsRegistered(t *testing.T) {
	commands := rootCmd.Commands()
	if len(commands) == 0 {
		t.Fatal("expected at least one subcommand to be registered")
	}

	expectedCommands := map[string]bool{
		"init":     false,
		"copy":     false,
		"validate": false,
		"cutover":  false,
		"ddl":      false,
		"status":   false,
	}

	for _, cmd := range commands {
		if _, exists := expectedCommands[cmd.Name()]; exists {
			expectedCommands[cmd.Name()] = true
		}
	}

	for cmdName, registered := range expectedCommands {
		if !registered {
			t.Errorf("expected command %q to be registered", cmdName)
		}
	}
}

func TestValidateFlags(t *testing.T) {
	for _, flag := range []string{"quick", "json", "table"} {
		if validateCmd.Flags().Lookup(flag) == nil {
			t.Errorf("validate should have a --%s flag", flag)
		}
	}
}

func TestCutoverFlags(t *testing.T) {
	for _, flag := range []string{"advance", "rollback", "cause", "yes"} {
		if cutoverCmd.Flags().Lookup(flag) == nil {
			t.Errorf("cutover should have a --%s flag", flag)
		}
	}
}
