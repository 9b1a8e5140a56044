package llm

import (
	"fmt"
	"strings"
)

// QueryPrompt builds the completion prompt that asks the model for a search
// query document matching userPrompt, given the field schema.
//
// Dates must come back as dd-MM-yyyy with the START_OF_MONTH and NOW_DATE
// placeholders, which the caller converts to epoch millis.
func QueryPrompt(userPrompt, schemaContext string) string {
	return fmt.Sprintf(`Generate Elasticsearch Query DSL from user input.

USER PROMPT:
%s

Rules:
R1: Work out what the user is asking for.
R2: Match each piece of information against the "description" and "aliases" of the fields in the schema and use that field's "fieldName".
R3: Build each clause with the field's "queryType" inside the field's "clause" (filter, must, ...).
R4: Put size at the top level, never inside a clause.

Date range rules (always add a range filter on txnDate):
- two dates given: smaller date as "gte", larger as "lte", both in dd-MM-yyyy format.
- one date given: that date as "gte" in dd-MM-yyyy format, "NOW_DATE" as "lte".
- no date given: "START_OF_MONTH" as "gte" and "NOW_DATE" as "lte".

ELASTICSEARCH SCHEMA:
%s

Return ONLY the JSON query.
`, strings.TrimSpace(userPrompt), strings.TrimSpace(schemaContext))
}
