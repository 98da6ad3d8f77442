package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
)

// Guideline 描述某一情绪族应采用的回应方式。
type Guideline struct {
	Context  string
	Fallback string
}

// guidelines are keyed by emotion family.
var guidelines = map[emotion.Label]Guideline{
	emotion.Sadness: {
		Context:  "The user appears to be feeling sad. Show empathy, validate their feelings, and gently explore what's causing their sadness. Offer comfort and hope.",
		Fallback: "I can sense that you're going through a difficult time. I'm here to listen and support you. What's been weighing on your mind?",
	},
	emotion.Anger: {
		Context:  "The user seems angry or frustrated. Acknowledge their feelings, help them identify the source of their anger, and guide them toward calming techniques.",
		Fallback: "I understand you're feeling frustrated or angry. That's completely valid. Can you help me understand what's causing these feelings?",
	},
	emotion.Fear: {
		Context:  "The user appears anxious or fearful. Provide reassurance, help them feel safe, and gently explore what's causing their anxiety.",
		Fallback: "I can see you might be feeling anxious or worried. You're safe here, and I want to help you work through whatever is troubling you.",
	},
	emotion.Joy: {
		Context:  "The user seems to be in a positive mood. Celebrate with them, encourage them to share what's making them happy, and reinforce positive feelings.",
		Fallback: "It's wonderful to see you in good spirits! I'd love to hear more about what's bringing you joy right now.",
	},
	emotion.Surprise: {
		Context:  "The user seems surprised. Help them process whatever unexpected event or information they're dealing with.",
		Fallback: "It sounds like something caught you off guard. Would you like to talk through what happened?",
	},
	emotion.Disgust: {
		Context:  "The user appears to be feeling disgusted or repulsed. Validate their feelings and help them process what's causing this reaction.",
		Fallback: "It sounds like something really didn't sit right with you. I'm here to listen. What happened?",
	},
	emotion.Neutral: {
		Context:  "The user's emotional state is neutral. Be warm and inviting, ask how they're feeling, and create a safe space for them to share.",
		Fallback: "Hello! I'm here to listen and support you. How are you feeling today? What would you like to talk about?",
	},
}

// GuidelineFor returns the guideline for the emotion a reply should address.
func GuidelineFor(face, text emotion.Label) Guideline {
	if g, ok := guidelines[emotion.Dominant(face, text)]; ok {
		return g
	}
	return guidelines[emotion.Neutral]
}

// FallbackResponse is the canned reply used when no model answer is available.
// It is never empty.
func FallbackResponse(face, text emotion.Label) string {
	return GuidelineFor(face, text).Fallback
}

// BuildSystemPrompt 根据面部与文本情绪生成治疗师的系统提示词。
func BuildSystemPrompt(face, text emotion.Label) string {
	face = emotion.Normalize(string(face))
	text = emotion.Normalize(string(text))

	var b strings.Builder
	b.WriteString("You are an empathetic virtual therapist. Based on the user's emotional state and message, provide a supportive, understanding response.\n\n")
	fmt.Fprintf(&b, "User's facial emotion: %s\n", face)
	fmt.Fprintf(&b, "User's text emotion: %s\n\n", text)
	fmt.Fprintf(&b, "Context: %s\n\n", GuidelineFor(face, text).Context)
	b.WriteString("Guidelines:\n")
	for _, rule := range responseRules {
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var responseRules = []string{
	"Be warm, empathetic, and non-judgmental",
	"Acknowledge their emotional state",
	"Ask gentle, open-ended questions to understand their feelings better",
	"Provide supportive guidance without being prescriptive",
	"Keep responses concise (2-3 sentences) but meaningful",
	`Use "I" statements to show understanding`,
	"Avoid clinical language, be conversational and human",
}
