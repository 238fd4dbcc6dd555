package decompose

// decompositionSystem frames the extraction task.
const decompositionSystem = `You extract business and technical processes from documents. You only report processes and steps that are explicitly mentioned in the text. You never invent or assume information that is not present.`

// decompositionPrompt is the prompt template for the decomposition call.
// The first verb is an optional top-level cap hint, the second is the
// document text.
const decompositionPrompt = `Analyze this document and extract every process it describes, with its steps.

%sReturn ONLY a JSON array with this exact structure (no other text):
[
  {
    "title": "Process name exactly as it appears in the text",
    "depends_on": ["title of a process this one requires, if stated"],
    "sub_processes": [
      {
        "title": "Step name exactly as it appears in the text",
        "depends_on": ["title of a step this one requires, if stated"]
      }
    ]
  }
]

Rules:
- ONLY extract processes and steps that are explicitly mentioned
- Use EXACTLY the same terminology that appears in the text
- Keep steps in the order the text presents them
- Only add depends_on entries when the text states one step requires another
- Use an empty array [] for depends_on when there are no dependencies

Document to analyze:
%s`
