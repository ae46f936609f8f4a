package export

// readerCSS is the shared stylesheet for every output format. Kept plain so
// it renders the same in a browser, an e-reader, and print.
const readerCSS = `
body {
    max-width: 700px;
    margin: 2rem auto;
    padding: 0 1rem;
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    font-size: 18px;
    line-height: 1.6;
    color: #333;
    background: #fff;
}
h1 {
    font-size: 2rem;
    margin-bottom: 0.5rem;
    line-height: 1.2;
}
h2 {
    font-size: 1.5rem;
    margin-top: 2rem;
}
h3 {
    font-size: 1.25rem;
    margin-top: 1.5rem;
}
.meta {
    color: #666;
    font-size: 0.9rem;
    margin-bottom: 2rem;
}
img {
    max-width: 100%;
    height: auto;
    margin: 1rem 0;
}
blockquote {
    border-left: 4px solid #ddd;
    margin: 1rem 0;
    padding-left: 1rem;
    color: #555;
}
pre, code {
    background: #f5f5f5;
    padding: 0.2rem 0.4rem;
    border-radius: 3px;
    font-size: 0.9em;
}
pre {
    padding: 1rem;
    overflow-x: auto;
}
a {
    color: #0066cc;
}
a:hover {
    text-decoration: underline;
}
figure {
    margin: 1.5rem 0;
}
figcaption {
    font-size: 0.9rem;
    color: #666;
    text-align: center;
    margin-top: 0.5rem;
}
hr {
    border: none;
    border-top: 1px solid #ddd;
    margin: 2rem 0;
}
`

// indexCSS extends readerCSS for the bundle's index page.
const indexCSS = `
ul {
    list-style: none;
    padding: 0;
}
li {
    padding: 0.5rem 0;
    border-bottom: 1px solid #eee;
}
li a {
    text-decoration: none;
}
li a:hover {
    text-decoration: underline;
}
.date {
    color: #666;
    font-size: 0.85rem;
}
`

// printCSS extends readerCSS for the combined print document: A4 pages, a
// standalone title page, and a page break before each article.
const printCSS = `
@page {
    size: A4;
    margin: 2cm;
}
.title-page {
    text-align: center;
    page-break-after: always;
    padding-top: 40%;
}
.title-page h1 {
    font-size: 2.5rem;
    margin-bottom: 1rem;
}
.title-page .author {
    font-size: 1.2rem;
    color: #666;
}
.title-page .count, .title-page .generated {
    color: #999;
    font-size: 0.9rem;
}
.toc {
    page-break-after: always;
}
.toc ol {
    list-style-position: inside;
}
.toc li {
    padding: 0.3rem 0;
}
.toc .date {
    color: #999;
    font-size: 0.8rem;
}
article {
    page-break-before: always;
}
article:first-of-type {
    page-break-before: auto;
}
`
