package tools

import "github.com/mark3labs/mcp-go/mcp"

func withPage() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
		mcp.WithNumber("page", mcp.Description("Zero-based page number")),
	}
}

func newTool(name, desc string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(desc)}, opts...)...)
}

func chatJIDParam(desc string) mcp.ToolOption {
	return mcp.WithString("chat_jid", mcp.Required(), mcp.Description(desc))
}

func messageParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		chatJIDParam("Chat the message belongs to"),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("ID of the message")),
	}
}

func (t *Tools) all() []tool {
	return []tool{
		{newTool("connection_status", "Report the connection state of the account"), t.connectionStatus},
		{newTool("list_chats", "List chats, most recent first",
			append(withPage(),
				mcp.WithString("query", mcp.Description("Filter by chat name or JID")),
				mcp.WithBoolean("archived", mcp.Description("Only archived or unarchived chats")),
				mcp.WithBoolean("pinned", mcp.Description("Only pinned or unpinned chats")),
				mcp.WithBoolean("is_group", mcp.Description("Only groups or direct chats")),
			)...), t.listChats},
		{newTool("get_chat", "Get one chat by JID or phone number",
			chatJIDParam("Chat JID or phone number")), t.getChat},
		{newTool("list_messages", "List stored messages, newest first",
			append(withPage(),
				mcp.WithString("chat_jid", mcp.Description("Restrict to one chat")),
				mcp.WithString("sender_jid", mcp.Description("Restrict to one sender")),
				mcp.WithString("before", mcp.Description("Only messages before this RFC3339 time")),
				mcp.WithString("after", mcp.Description("Only messages after this RFC3339 time")),
				mcp.WithBoolean("from_me", mcp.Description("Only sent or only received messages")),
				mcp.WithBoolean("starred", mcp.Description("Only starred messages")),
				mcp.WithBoolean("include_deleted", mcp.Description("Include deleted messages")),
			)...), t.listMessages},
		{newTool("search_messages", "Full-text search over stored messages",
			append(withPage(),
				mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
				mcp.WithString("chat_jid", mcp.Description("Restrict to one chat")),
			)...), t.searchMessages},
		{newTool("semantic_search", "Find messages by meaning using embeddings",
			mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
		), t.semanticSearch},
		{newTool("search_contacts", "Search contacts by name or phone number",
			append(withPage(),
				mcp.WithString("query", mcp.Required(), mcp.Description("Name or number fragment")),
			)...), t.searchContacts},
		{newTool("send_message", "Send a text message",
			chatJIDParam("Recipient JID or phone number"),
			mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
			mcp.WithString("reply_to", mcp.Description("ID of a message to quote")),
		), t.sendMessage},
		{newTool("send_media", "Send a local file as image, video, audio or document",
			chatJIDParam("Recipient JID or phone number"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the file")),
			mcp.WithString("caption", mcp.Description("Caption")),
			mcp.WithString("filename", mcp.Description("File name shown to the recipient")),
		), t.sendMedia},
		{newTool("react", "React to a message. An empty emoji removes the reaction",
			append(messageParams(),
				mcp.WithString("emoji", mcp.Description("Emoji")),
			)...), t.react},
		{newTool("edit_message", "Edit the text of a message you sent",
			append(messageParams(),
				mcp.WithString("text", mcp.Required(), mcp.Description("New text")),
			)...), t.editMessage},
		{newTool("delete_message", "Delete a message for you or for everyone",
			append(messageParams(),
				mcp.WithBoolean("for_everyone", mcp.Description("Revoke for all participants")),
			)...), t.deleteMessage},
		{newTool("star_message", "Star or unstar a message",
			append(messageParams(),
				mcp.WithBoolean("starred", mcp.Description("false to unstar")),
			)...), t.starMessage},
		{newTool("archive_chat", "Archive or unarchive a chat",
			chatJIDParam("Chat JID"),
			mcp.WithBoolean("archived", mcp.Description("false to unarchive")),
		), t.archiveChat},
		{newTool("mark_read", "Mark a chat as read",
			chatJIDParam("Chat JID"),
		), t.markRead},
		{newTool("schedule_message", "Schedule a message for later delivery",
			chatJIDParam("Recipient JID or phone number"),
			mcp.WithString("send_at", mcp.Required(), mcp.Description("RFC3339 delivery time")),
			mcp.WithString("text", mcp.Description("Message text or media caption")),
			mcp.WithString("media_path", mcp.Description("Absolute path of a file to send")),
		), t.scheduleMessage},
		{newTool("cancel_scheduled_message", "Cancel a pending scheduled message",
			mcp.WithString("id", mcp.Required(), mcp.Description("Scheduled message ID")),
		), t.cancelScheduled},
		{newTool("list_scheduled_messages", "List scheduled messages by delivery time",
			append(withPage(),
				mcp.WithString("status", mcp.Description("pending, sent, failed or cancelled")),
			)...), t.listScheduled},
	}
}
