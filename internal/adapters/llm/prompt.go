package llm

const noiseFilterSystemPrompt = "You are an expert AI news analyst. You answer only with JSON."

const noiseFilterPrompt = `Carefully read a batch of recent posts from AI accounts and filter out the noise, keeping only the posts that matter for a high-quality daily AI digest.

Goal: return only the valuable posts. Be exhaustive: if a post plausibly fits the criteria below, keep it. There is no cap. When uncertain, keep the post.

KEEP a post if it fits at least one category:
1) Major launches and news: major model releases, significant startup launches, new capabilities in major tools, pricing changes, major partnerships, credible rumors or leaks.
2) Replicable demos and tools: someone showing how they built something, or updates that can be tried immediately.
3) UX, workflow and product patterns: interesting UI/UX interactions, novel ways of chaining agents or structuring AI workflows.
4) Marketing mechanics: formats or angles getting high engagement, important topics that need simplifying for a general audience.

DROP a post if it is:
- generic hype without specific examples or news
- engagement bait without substance
- a personal or life update
- recruiting, webinar signups or discount codes
- a reply that adds no context

Deduplication: if several posts cover the same event but each adds distinct substantive information, keep all of them. If they are truly redundant, keep the most informative one.

Evaluate every post individually. Return a JSON array containing the selected posts in exactly the input shape:
[{"author_name": "<author name>", "text": "<post text>", "url": "<post link>"}]

Never change a url. No markdown, no comments, only the JSON array.

Input posts:
%s`

const formatterSystemPrompt = "You are an expert AI analyst and summarizer. You answer only with a JSON object."

const formatterPrompt = `Create a structured daily AI digest from the last %d hours of updates. %d posts were scanned and the %d most valuable ones are given below as JSON with the fields text, url and author_name.

Return a JSON object with exactly this structure:
{
  "generalUpdates": [{"text": "1-2 sentences summarizing the update", "url": "https://..."}],
  "launches": [{"keyword": "search-intent friendly keyword or phrase", "url": "https://..."}],
  "tools": [{"summary": "1-2 sentences describing the tool or prototype", "url": "https://..."}],
  "productInspirations": [{"insight": "1-2 sentences connecting the idea to product development", "url": "https://..."}],
  "marketingIdeas": [{"idea": "1-2 sentences explaining why this is useful for content or positioning", "url": "https://..."}]
}

Content guidelines:
- generalUpdates (5-15 items): interesting AI news, developments or demos. Substantial and newsworthy.
- launches (3-8 items if available): strictly tier 1 launches or significant industry shifts. Keywords must be search-intent friendly, like "GPT-5 pricing".
- tools (1-3 items max): new AI features or demos that can be tried immediately.
- productInspirations (1-3 items max): UX or workflow patterns that could be adapted.
- marketingIdeas (1-3 items max): viral formats or complex topics worth simplifying.

Strict rules:
- No emojis.
- Do not mention "tweet", "post", "JSON" or "X" and do not reference the data source.
- Tone: sharp, clean, confident, no fluff.
- Every url must be copied from the input data. Never invent a url.
- Each text must be 1-2 sentences.
- Return only valid JSON without markdown code blocks or explanations.

Input posts:
%s`
