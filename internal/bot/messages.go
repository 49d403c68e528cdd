package bot

import (
	"fmt"
	"strings"
)

const hierarchyWarning = "⚠️ The bot is currently below this role in the role hierarchy, so it will not be able to assign it. " +
	"Consider dragging the bot role above the gated role."

func roleMention(id uint64) string { return "<@&" + formatID(id) + ">" }

func userMention(id uint64) string { return "<@" + formatID(id) + ">" }

func roleMentions(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = roleMention(id)
	}
	return strings.Join(parts, " ")
}

func registerText(url string) string {
	return "You need to connect your wallet address with your Discord account to get gated roles. " +
		"Please go to " + url + " and follow the instructions. The link is valid for 60 seconds."
}

func unregisterText(url string) string {
	return "☠️ To disconnect your wallet from your Discord account follow this link " + url +
		" and confirm. The link is valid for 60 seconds."
}

func grantText(userID uint64, granted, failed []uint64) string {
	var b strings.Builder
	if len(granted) == 0 {
		b.WriteString("Using `/get in` didn't give you any roles yet 😢")
	} else {
		fmt.Fprintf(&b, "%s using `/get in` got you the following roles: %s 🎉", userMention(userID), roleMentions(granted))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nGot an error while granting the roles: %s\nMaybe your admin should check the role hierarchy! 🤔", roleMentions(failed))
	}
	return b.String()
}

// changeText はゲートの適用でロールが変わったメンバーへのDM。
func changeText(guildID uint64, c Change) string {
	var b strings.Builder
	fmt.Fprintf(&b, "There was a role update for you on server %s!\n", formatID(guildID))
	b.WriteString("You can always use the `/get in` command to check if new roles are available to you.\n")
	if len(c.Granted) > 0 {
		fmt.Fprintf(&b, "\nYou have been granted the following roles: %s", roleMentions(c.Granted))
	}
	if len(c.Revoked) > 0 {
		fmt.Fprintf(&b, "\nYou lost the following roles: %s", roleMentions(c.Revoked))
	}
	if len(c.FailedGrants) > 0 {
		fmt.Fprintf(&b, "\nThere were problems granting you the roles: %s", roleMentions(c.FailedGrants))
	}
	if len(c.FailedRevokes) > 0 {
		fmt.Fprintf(&b, "\nLuckily for you, I couldn't remove the following roles: %s", roleMentions(c.FailedRevokes))
	}
	return b.String()
}

func enforceSummary(r Report) string {
	if len(r.Roles) == 0 {
		return "No gates found on this server, nothing to enforce."
	}
	granted, revoked := r.Totals()
	return fmt.Sprintf("Finished enforcing the gates for %s on %d members: %d members updated, %d roles granted, %d roles revoked.",
		roleMentions(r.Roles), r.Members, len(r.Changes), granted, revoked)
}
