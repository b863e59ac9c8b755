package analysis

import (
	"fmt"
	"strconv"
	"strings"
)

// Prompt templates for the aggregation tiers. Placeholders are substituted
// with strings.Replacer rather than fmt so the JSON examples embedded in the
// templates survive untouched.

const analysisSystemPrompt = "你是一个漫画剧情分析师，请生成结构化的分析结果。"

const segmentSummaryPrompt = `【输出中文】基于以下 {batch_count} 个批次的分析结果（第 {start_page} 页至第 {end_page} 页），生成一个连贯的小总结。

【批次分析结果】
{batch_summaries}

请生成结构化的小总结，JSON 格式：
{
    "segment_id": "{segment_id}",
    "page_range": {
        "start": {start_page},
        "end": {end_page}
    },
    "summary": "<这段内容的主要剧情概括，详细描述故事发展、角色互动和关键事件，150-300字>"
}

要求：
1. 整合各批次的信息，形成连贯叙述
2. 突出重要角色和关键事件
3. 注意剧情的因果关系

【重要】请直接输出JSON，不要包含任何解释、markdown代码块或其他文字。`

const chapterSummaryPrompt = `【输出中文】基于以下小总结，生成完整的章节总结。

【章节信息】
章节：{chapter_title}
页面范围：第 {start_page} 页至第 {end_page} 页

【小总结列表】
{segment_summaries}

请生成章节总结，JSON 格式：
{
    "title": "{chapter_title}",
    "page_range": {
        "start": {start_page},
        "end": {end_page}
    },
    "summary": "<本章完整剧情概述，按时间顺序描述主要事件和角色行为，400-600字>",
    "key_events": ["<按顺序列出3-5个关键事件，每个事件一句话描述>"]
}

要求：
1. 综合所有小总结，形成完整的章节叙述
2. 理清人物关系和剧情脉络
3. summary 要详细描述剧情发展，不要空泛概括

【重要】请直接输出JSON，不要包含任何解释、markdown代码块或其他文字。`

const bookOverviewPrompt = `【输出中文】请根据以下内容，生成一份**结构化的剧情概述**，使用 Markdown 格式输出。

【内容摘要】
{section_summaries}

【任务说明】
你需要像给朋友复述故事一样，详细讲述内容中发生的所有事情。这不是宣传简介，而是完整的剧情回顾，可以包含所有剧透。

【写作要求】
1. 必须使用 Markdown 格式：标题用 ##，列表用 -，重点用 **加粗**
2. 按时间线描述主要事件：谁做了什么、发生了什么、结果如何
3. 不要省略情节：每个重要转折都要提到
4. 避免空话套话，要有具体内容
5. 字数根据内容调整：内容少则300-500字，内容多则500-1000字

请直接输出 Markdown 格式的概述，无需代码块包裹。`

// renderSegmentPrompt fills the segment-summary template for one group.
func renderSegmentPrompt(segmentID string, r PageRange, memberSummaries []string) string {
	return strings.NewReplacer(
		"{batch_count}", strconv.Itoa(len(memberSummaries)),
		"{start_page}", strconv.Itoa(r.Start),
		"{end_page}", strconv.Itoa(r.End),
		"{batch_summaries}", strings.Join(memberSummaries, "\n"),
		"{segment_id}", segmentID,
	).Replace(segmentSummaryPrompt)
}

// renderChapterPrompt fills the chapter-summary template.
func renderChapterPrompt(title string, r PageRange, memberSummaries []string) string {
	return strings.NewReplacer(
		"{chapter_title}", title,
		"{start_page}", strconv.Itoa(r.Start),
		"{end_page}", strconv.Itoa(r.End),
		"{segment_summaries}", strings.Join(memberSummaries, "\n"),
	).Replace(chapterSummaryPrompt)
}

// renderOverviewPrompt fills the book-overview template.
func renderOverviewPrompt(sectionSummaries []string) string {
	return strings.NewReplacer(
		"{section_summaries}", strings.Join(sectionSummaries, "\n"),
	).Replace(bookOverviewPrompt)
}

// memberLine renders one aggregation input as "第s-e页: summary".
func memberLine(r PageRange, summary string) string {
	return fmt.Sprintf("%s: %s", r.Label(), summary)
}
