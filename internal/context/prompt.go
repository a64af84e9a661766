package context

// DefaultSystemPrompt is the system message sent with every extraction.
const DefaultSystemPrompt = "Your task is to read the image path from the message."

// DefaultUserPrompt is the text/template for the user message. The
// template receives PromptData.
const DefaultUserPrompt = "Input message: {{.Message}}.\n\n" +
	"Your response should be a JSON object with the key 'image_url' and the value as the image path. " +
	"For example, {'image_url': 'c:/images/image.jpg'} or {'image_url': 'http://example.com/image.jpg'}. " +
	"Do not add any additional information in the response or wrap the JSON with ```json and ```."

// PromptData is the value the user template is executed against.
type PromptData struct {
	Message string
}

// Template holds the two prompt sources. User is parsed as text/template.
type Template struct {
	System string
	User   string
}

// DefaultTemplate returns the built-in prompt pair.
func DefaultTemplate() Template {
	return Template{System: DefaultSystemPrompt, User: DefaultUserPrompt}
}
