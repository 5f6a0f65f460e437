package generator

import "fmt"

// PromptFamily selects which prompt wording drives a generation. There are
// exactly two families: generic topics and person/organization subjects.
// The choice is made once per topic by classification and persisted on the
// resulting graph.
type PromptFamily int

const (
	// FamilyGeneric extracts concepts for an ordinary topic
	FamilyGeneric PromptFamily = iota
	// FamilyPerson extracts biography-style facts for a person or organization
	FamilyPerson
)

// FamilyFor maps the persisted is_person flag back to a prompt family
func FamilyFor(isPerson bool) PromptFamily {
	if isPerson {
		return FamilyPerson
	}
	return FamilyGeneric
}

// IsPerson reports whether this family is the person/organization variant
func (f PromptFamily) IsPerson() bool {
	return f == FamilyPerson
}

const prejudgePromptTemplate = `Decide whether the following subject is a person or an organization.
Subject: %s
Respond with a JSON object only, no other text: {"result": "1"} if it is a person or organization, {"result": "0"} otherwise.`

const conceptPromptTemplate = `You are building a knowledge graph about "%s".
List the %d most important concepts for understanding this topic.
Respond with a JSON object only, no markdown, no other text.
Each key is a concept name and each value is a one-or-two sentence description:
{"concept name": "description", ...}`

const personPromptTemplate = `You are building a knowledge graph about "%s", a person or organization.
List the %d most important facts: key people, roles, events, works and affiliations.
Respond with a JSON object only, no markdown, no other text.
Each key is a short fact name and each value is a one-or-two sentence description:
{"fact name": "description", ...}`

const relationshipPromptTemplate = `Given these concepts from a knowledge graph:
%s
Identify the directed relationships between them.
Respond with a JSON object only, no markdown, no other text, in the form:
{"relations": [["source concept", "target concept", "relation label"], ...]}
Source and target must be concept names from the list above.`

const relationshipPersonPromptTemplate = `Given these facts about a person or organization:
%s
Identify how the facts relate to each other (who did what, what led to what, who belongs where).
Respond with a JSON object only, no markdown, no other text, in the form:
{"relations": [["source fact", "target fact", "relation label"], ...]}
Source and target must be fact names from the list above.`

const newConceptPromptTemplate = `A user wants to add the following concept to a knowledge graph: "%s".
Write a concise description for it.
Respond with a JSON object only, no markdown, no other text, containing exactly one entry:
{"concept name": "description"}`

const newPersonConceptPromptTemplate = `A user wants to add the following fact about a person or organization to a knowledge graph: "%s".
Write a concise description for it.
Respond with a JSON object only, no markdown, no other text, containing exactly one entry:
{"fact name": "description"}`

func (f PromptFamily) conceptPrompt(topic string, count int) string {
	if f == FamilyPerson {
		return fmt.Sprintf(personPromptTemplate, topic, count)
	}
	return fmt.Sprintf(conceptPromptTemplate, topic, count)
}

func (f PromptFamily) relationshipPrompt(conceptsJSON string) string {
	if f == FamilyPerson {
		return fmt.Sprintf(relationshipPersonPromptTemplate, conceptsJSON)
	}
	return fmt.Sprintf(relationshipPromptTemplate, conceptsJSON)
}

func (f PromptFamily) newConceptPrompt(input string) string {
	if f == FamilyPerson {
		return fmt.Sprintf(newPersonConceptPromptTemplate, input)
	}
	return fmt.Sprintf(newConceptPromptTemplate, input)
}

func prejudgePrompt(topic string) string {
	return fmt.Sprintf(prejudgePromptTemplate, topic)
}
