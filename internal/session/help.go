package session

// helpLines is sent, one line per help! frame, in response to "@help",
// per the user-visible command grammar in spec.md §6.
var helpLines = []string{
	"@<username> <message> -> send private message to user",
	"@help -> show this message",
	"@claim <username> -> claim a user",
	"@comment<message id> <new message> -> comment a message",
	"@exit -> exit from the messenger",
}
