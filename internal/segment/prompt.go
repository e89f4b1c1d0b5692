package segment

const systemPrompt = `You are an instructional designer who turns textbook chapters into short,
narratable lesson topics for school students. You always answer with JSON.`

const segmentPrompt = `Analyze the following lesson content and segment it into topics and subtopics.

For each topic provide:
1. "topic": the topic name
2. "subtopic": the subtopic name, or null when there is none
3. "order": the position of the topic in the lesson, starting at 1
4. "segments": the ordered parts of the topic, each with
   - "originalText": the passage from the content, copied verbatim
   - "text": a simplified explanation of the passage suitable for students,
     written to be read aloud

RULES:
- Cover the whole content in reading order; do not skip passages
- Keep each segment short enough to narrate in under a minute
- Do not invent facts that are not in the content
- Return ONLY JSON with structure: { "topics": [{ "topic", "subtopic", "order", "segments": [{ "originalText", "text" }] }] }

The content spans %d pages.

Content:
%s`
