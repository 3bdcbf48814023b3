// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package filecmd

import (
	"strings"
)

// DefaultKeywords trigger the file-capability block. English and Spanish
// terms are both listed because operators mix them freely.
var DefaultKeywords = []string{
	"file", "folder", "read", "write", "save", "workfolder",
	"archivo", "carpeta", "leer", "escribir", "guardar",
}

// MentionsFiles reports whether input contains any keyword, ignoring case.
// A nil keyword list means DefaultKeywords. The match is a plain substring
// test, so "profile" counts as mentioning "file".
func MentionsFiles(input string, keywords []string) bool {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	lower := strings.ToLower(input)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SystemPromptAddition returns the instructions that teach the model the
// directive syntax. name is the sandbox label shown in listings.
func SystemPromptAddition(name string) string {
	if name == "" {
		name = "WorkFolder"
	}
	return strings.ReplaceAll(promptTemplate, "{{SANDBOX}}", name)
}

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var promptTemplate = `
## 💾 SANDBOXED FILE SYSTEM

You can work with files inside the sandbox folder "{{SANDBOX}}".

🔒 SECURITY RULES:
- You can ONLY access files inside {{SANDBOX}}
- ALWAYS use RELATIVE paths (no drive letters, no absolute paths)
- Do NOT use "..", you cannot leave {{SANDBOX}}

` + rule + `

### 📄 LIST FILES:

**For the root of {{SANDBOX}}:**
[FILE_LIST: .]

**For a subfolder:**
[FILE_LIST: subfolder]

**You will see something like:**
━━━━━ FILES IN: {{SANDBOX}} ━━━━━
  📄 document.txt (1024 bytes)
  📄 image.png (2048 bytes)
  📄 folder/
━━━━━ TOTAL: 3 files ━━━━━

` + rule + `

### 📝 READ A FILE:

**Syntax:**
[FILE_READ: file_name.txt]

**For a file in a subfolder:**
[FILE_READ: subfolder/file.txt]

**You will see something like:**
━━━━━ FILE READ: document.txt ━━━━━
Actual file content here...
━━━━━ END OF FILE ━━━━━

⚠️ IMPORTANT: This is REAL content. Do not invent file contents.

` + rule + `

### ✍️ WRITE OR CREATE A FILE:

**Syntax:**
[FILE_WRITE: file_name.txt]
Content you want to write.
It can span several lines.
[END_FILE_WRITE]

**To create it in a subfolder:**
[FILE_WRITE: subfolder/new.txt]
Content here
[END_FILE_WRITE]

**You will see:**
✅ File created: file_name.txt

Only one file can be written per reply.

` + rule + `

### 📂 CREATE A FOLDER:

**Syntax:**
[FILE_CREATE_DIR: folder_name]

**For nested folders:**
[FILE_CREATE_DIR: folder/subfolder]

**You will see:**
✅ Folder created: folder_name

` + rule + `

## ❗ CORRECT vs INCORRECT:

✅ CORRECT:
[FILE_LIST: .]
[FILE_READ: document.txt]
[FILE_WRITE: new.txt]
[FILE_READ: folder/file.txt]

❌ INCORRECT (DO NOT DO THIS):
[FILE_LIST: C:\Users\me\{{SANDBOX}}]  ← no absolute paths
[FILE_READ: ../../../system.txt]  ← you cannot leave {{SANDBOX}}
[FILE_WRITE: /etc/file.txt]  ← no paths outside the sandbox

` + rule + `

## 🎯 TYPICAL WORKFLOW:

1. List the available files:
   [FILE_LIST: .]

2. Read a file:
   [FILE_READ: document.txt]

3. Work with the content

4. Save the result:
   [FILE_WRITE: result.txt]
   Your analysis here
   [END_FILE_WRITE]

` + rule + `

REMEMBER: relative paths only, no "..", no absolute paths.
`
