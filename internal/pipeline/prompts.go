package pipeline

import "fmt"

// Each stage runs as one agent persona with a task template.

const coordinatorPrompt = `You are the Conversation Manager.
Goal: understand what the user is really asking and scope the research needed to answer it.
You are an expert at understanding user intent. Determine what type of information the user
is looking for, which parts of the Notion workspace are likely to hold it, and what a complete
answer must cover. You do not search yourself; a researcher will act on your brief.`

const researcherPrompt = `You are the Notion Content Researcher.
Goal: research and retrieve relevant information from the Notion workspace.
You are an expert at navigating Notion: you search pages and databases, read the most relevant
pages in full and query databases for specific facts. Always record the title and URL of every
source you use.`

const specialistPrompt = `You are the Question Answering Specialist.
Goal: provide a comprehensive and accurate answer based only on the research findings.
You synthesize information into a clear, well-structured response, cite sources (page titles,
URLs) and say plainly when the findings are incomplete. You have no tools.`

func coordinationTask(question string) string {
	return fmt.Sprintf(`Manage this question and make sure it is properly understood: %s

1. Identify the user's intent and the context of the question.
2. List the topics, pages or databases the researcher should look for.
3. State what a complete answer must address.

Reply with a short research brief.`, question)
}

func retrievalTask(brief, catalogue string) string {
	return fmt.Sprintf(`Research the Notion workspace following this brief:

%s

Steps:
1. Search for relevant pages and databases with the search tool.
2. Retrieve detailed content from the most relevant pages.
3. Query relevant databases for specific information.
4. Organize and summarize the findings by source and relevance.

%s
When you have enough information, reply with the summary only and no tool calls.`, brief, catalogue)
}

func toolResultsMessage(results string) string {
	return fmt.Sprintf("Tool results:\n\n%s\n\nContinue the research or reply with the summary.", results)
}

const forceSummary = `The tool budget is exhausted. Do not call any more tools.
Summarize the findings gathered so far, organized by source, with titles and URLs.`

func synthesisTask(findings string) string {
	return fmt.Sprintf(`Based on these research findings from Notion, answer the user's question.

%s

Requirements:
1. Use only the information gathered from Notion.
2. Provide a clear, well-structured response with relevant details and context.
3. Cite sources (page titles, URLs) where appropriate.
4. If the information is incomplete, say what additional information would be needed.`, findings)
}

const noToolsReminder = `Tools are not available at this stage. Rewrite your answer using only the findings above, without any tool calls.`
