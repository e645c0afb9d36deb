package worker

import (
	"fmt"
	"strings"

	"github.com/aristath/storyloop/internal/story"
)

// ComposePrompt builds the instruction text for one worker invocation:
// base instructions plus the story focus, and in parallel mode an
// isolation directive, since several workers may be editing the state
// document at once.
func ComposePrompt(docPath string, st story.Story, parallel bool, completionMarker string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are implementing one user story from the requirements document at %s.\n\n", docPath)
	fmt.Fprintf(&b, "Work ONLY on story %q", st.ID)
	if st.Title != "" {
		fmt.Fprintf(&b, ": %s", st.Title)
	}
	b.WriteString(".\n")
	if st.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", st.Description)
	}
	if st.Notes != "" {
		fmt.Fprintf(&b, "\nNotes from a previous attempt:\n%s\n", st.Notes)
	}

	fmt.Fprintf(&b, "\nWhen the story is fully implemented and verified, update its entry in %s: set \"status\" to \"completed\" and \"passes\" to true.\n", docPath)
	b.WriteString("If you stop before finishing, leave context for the next attempt in the story's \"notes\" field.\n")

	if parallel {
		b.WriteString("\nOther workers may be running concurrently on other stories. Modify only your own story's fields in the document; never rewrite the story list or touch another story.\n")
	}

	if completionMarker != "" {
		fmt.Fprintf(&b, "\nIf every story in the document is already completed, print %s and stop.\n", completionMarker)
	}

	return b.String()
}
