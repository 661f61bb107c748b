package session

// Word-count tier bounds for the prompt questions shown while the coach joins.
const (
	shortTierMax  = 49
	mediumTierMax = 150
)

var tierQuestions = [3][]string{
	{
		"What inspired you to choose this topic?",
		"Can you tell me more about your main points?",
		"What do you hope people will remember most?",
	},
	{
		"I found your presentation really interesting! What's the key takeaway you want people to have?",
		"Can you elaborate on some of the points you made?",
		"What questions do you think your audience might have?",
	},
	{
		"That was a comprehensive presentation! Which part are you most passionate about?",
		"I'd love to hear more about the details you shared - what's most important?",
		"What aspects would you like to explore further in our discussion?",
	},
}

// QuestionTier returns 0 below 50 words, 1 for 50 through 150 and 2 above 150.
func QuestionTier(words int) int {
	switch {
	case words <= shortTierMax:
		return 0
	case words <= mediumTierMax:
		return 1
	default:
		return 2
	}
}

// Questions derives the display-only prompt questions for a transcript of the given length.
func Questions(words int) []string {
	return append([]string(nil), tierQuestions[QuestionTier(words)]...)
}
