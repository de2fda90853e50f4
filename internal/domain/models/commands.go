package models

import "strings"

// CommandType enumerates the chat commands staff can send.
type CommandType string

const (
	CommandReport  CommandType = "report"
	CommandStock   CommandType = "stock"
	CommandSale    CommandType = "sale"
	CommandPending CommandType = "pending"
	CommandHelp    CommandType = "help"
	CommandUnknown CommandType = "unknown"
)

// Command represents a parsed staff instruction extracted from WhatsApp text.
type Command struct {
	Type CommandType
	Raw  string
	Args []string
}

var commandAliases = map[string]CommandType{
	"report":  CommandReport,
	"reporte": CommandReport,
	"stock":   CommandStock,
	"sale":    CommandSale,
	"venta":   CommandSale,
	"pending": CommandPending,
	"help":    CommandHelp,
	"ayuda":   CommandHelp,
}

// ParseCommand derives a Command instance from free-form text messages. Only
// the command word is case-insensitive; arguments keep their case.
func ParseCommand(message string) Command {
	cmd := Command{Type: CommandUnknown, Raw: message}

	tokens := strings.Fields(message)
	if len(tokens) == 0 {
		return cmd
	}

	if t, ok := commandAliases[strings.ToLower(strings.TrimPrefix(tokens[0], "/"))]; ok {
		cmd.Type = t
	}
	if len(tokens) > 1 {
		cmd.Args = tokens[1:]
	}
	return cmd
}
