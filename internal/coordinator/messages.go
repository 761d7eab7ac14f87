package coordinator

import (
	"fmt"

	kit "gradebot/internal/transport"
)

const (
	msgChecking        = "Checking if login info is valid..."
	msgRegistered      = "Registration successful!"
	msgUnknownCommand  = "Sorry, I didn't understand that. Try help."
	msgRegisterUsage   = "Usage: register <username> <password>"
	msgUnregisterUsage = "Usage: unregister <username>"
	msgGradesUsage     = "Usage: grades [<username>]"
	msgNoUsers         = "Nobody is registered in this chat yet. Use: register <username> <password>"
)

const helpText = `Commands:
register <username> <password> - start watching your grades
grades [<username>] - show stored grades
unregister <username> - stop watching and forget stored grades
status - list watched users in this chat
help - show this message`

// Commands is the command menu published to the transport.
func Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "register", Description: "Start watching grades: register <username> <password>"},
		{Command: "grades", Description: "Show stored grades: grades [<username>]"},
		{Command: "unregister", Description: "Stop watching: unregister <username>"},
		{Command: "status", Description: "List watched users in this chat"},
		{Command: "help", Description: "Show help"},
	}
}

func msgRegistrationError(status string) string { return "Registration error: " + status }

func msgReregistering(user string, id int64) string {
	return fmt.Sprintf("Reregistering %s (id %d)", user, id)
}

func msgAlreadyRegistered(user string) string { return user + " is already registered here." }
func msgNoSuchUser(user string) string        { return "No user " + user + " registered here." }
func msgNoGrades(user string) string          { return "No grades recorded for " + user + " yet." }
func msgUnregistered(user string) string      { return "Unregistered " + user + "." }

func msgAdvisory(user string, failures int) string {
	return fmt.Sprintf("Having trouble reaching the grade service for %s (%d failed checks in a row). Still trying.", user, failures)
}

func msgRestarted(user string) string {
	return fmt.Sprintf("The bot restarted and lost its login session for %s. Send: register %s <password> to resume.", user, user)
}
